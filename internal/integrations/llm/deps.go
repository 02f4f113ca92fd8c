package llm

import (
	"ticketlens/internal/config"
	"ticketlens/internal/domain"
	"ticketlens/internal/httpx"
)

type Config = config.Config
type Ticket = domain.Ticket

var externalHTTPClient = httpx.ExternalHTTPClient()
