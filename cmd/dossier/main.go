package main

import (
	"dossier/cmd/handlers"
	"dossier/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
