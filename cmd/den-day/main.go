package main

import (
	"log/slog"

	"github.com/ChilliRoger/den-day/internal/commands"
	"github.com/ChilliRoger/den-day/internal/logging"
)

func main() {
	// Logs would tear through the live view; only errors by default.
	logging.Init(slog.LevelError)
	commands.Execute()
}
