package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"ticketlens/internal/domain"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

// ErrInsightDisabled is returned when no provider credential is configured.
var ErrInsightDisabled = errors.New("remote insight disabled: no API key configured")

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

type Finding struct {
	Description string
	// Confidence is nil when the service did not report one.
	Confidence *float64
	TicketNos  []string
}

type Recommendation struct {
	Text string
}

// InsightResult is owned by the caller and not persisted.
type InsightResult struct {
	Findings        []Finding
	Recommendations []Recommendation
	Categories      map[string]int
	Summary         string

	Provider string
	Model    string
	Usage    Usage
	// TicketNos lists the tickets that fit in the payload, in order.
	TicketNos []string
	Omitted   int
}

// CompleterFunc sends one prompt pair to a model and returns its raw text.
type CompleterFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)

type Requester struct {
	Provider string
	Model    string
	Complete CompleterFunc
	Retry    RetryPolicy
	// Timeout bounds a whole RequestInsight call, retries included.
	Timeout time.Duration

	DescriptionMaxChars int
	MaxPayloadChars     int
	FindingsKey         string
	RecommendationsKey  string
}

// NewRequester builds a requester for the configured provider.
func NewRequester(cfg Config) (*Requester, error) {
	if !cfg.InsightEnabled() {
		return nil, ErrInsightDisabled
	}
	r := &Requester{
		Provider:            cfg.LLMProvider,
		Model:               strings.TrimSpace(cfg.LLMModel),
		Retry:               DefaultRetryPolicy(),
		Timeout:             cfg.LLMTimeout(),
		DescriptionMaxChars: cfg.LLMDescriptionMaxChars,
		MaxPayloadChars:     cfg.LLMMaxPayloadChars,
		FindingsKey:         cfg.InsightFindingsKey,
		RecommendationsKey:  cfg.InsightRecommendationsKey,
	}
	r.Retry.MaxRetries = cfg.LLMMaxRetries

	switch cfg.LLMProvider {
	case "anthropic":
		if r.Model == "" {
			r.Model = defaultAnthropicModel
		}
		r.Complete = anthropicCompleter(cfg.AnthropicAPIKey, r.Model, cfg.LLMBaseURL)
	case "openai":
		if r.Model == "" {
			r.Model = defaultOpenAIModel
		}
		r.Complete = openAICompleter(cfg.OpenAIAPIKey, r.Model, cfg.LLMBaseURL)
	default:
		return nil, &domain.ValidationError{Field: "llm_provider", Msg: fmt.Sprintf("unsupported provider %q", cfg.LLMProvider)}
	}
	return r, nil
}

// RequestInsight asks the service to correlate the sampled tickets. Transient
// failures are retried; a malformed answer is returned immediately as a
// *domain.ResponseShapeError.
func (r *Requester) RequestInsight(ctx context.Context, sample []Ticket) (InsightResult, error) {
	if len(sample) == 0 {
		return InsightResult{}, &domain.ValidationError{Field: "sample", Msg: "no tickets to analyze"}
	}
	if r.Complete == nil {
		return InsightResult{}, ErrInsightDisabled
	}

	payload, included, omitted := buildPayload(sample, r.descriptionMaxChars(), r.MaxPayloadChars)
	if omitted > 0 {
		log.Printf("llm insight payload budget reached included=%d omitted=%d", len(included), omitted)
	}
	systemPrompt, userPrompt := buildInsightPrompts(payload, r.findingsKey(), r.recommendationsKey())

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, usage, err := r.completeWithRetry(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Printf("llm insight provider=%s failed after %s: %v", r.Provider, time.Since(start).Round(time.Millisecond), err)
		return InsightResult{}, err
	}

	res, err := parseInsightResponse(text, r.findingsKey(), r.recommendationsKey())
	if err != nil {
		log.Printf("llm insight provider=%s malformed response: %v", r.Provider, err)
		return InsightResult{}, err
	}
	res.Provider = r.Provider
	res.Model = r.Model
	res.Usage = usage
	res.TicketNos = included
	res.Omitted = omitted
	log.Printf("llm insight provider=%s model=%s tickets=%d findings=%d recommendations=%d tokens=%d",
		r.Provider, r.Model, len(included), len(res.Findings), len(res.Recommendations), usage.TotalTokens())
	return res, nil
}

func (r *Requester) descriptionMaxChars() int {
	if r.DescriptionMaxChars > 0 {
		return r.DescriptionMaxChars
	}
	return 600
}

func (r *Requester) findingsKey() string {
	if r.FindingsKey != "" {
		return r.FindingsKey
	}
	return "findings"
}

func (r *Requester) recommendationsKey() string {
	if r.RecommendationsKey != "" {
		return r.RecommendationsKey
	}
	return "recommendations"
}
