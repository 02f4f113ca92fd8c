package main

import "ticketlens/internal/app"

func main() {
	app.Main()
}
