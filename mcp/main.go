// Command book-buddy-mcp exposes the book-buddy backend to MCP clients over
// stdio: transcript context, timestamp lookup, notes and the library.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/config"
	"github.com/d-kavaliou/book-buddy/internal/db"
	"github.com/d-kavaliou/book-buddy/internal/logging"
)

func main() {
	cfg := config.Load()

	// stdout carries the protocol, so logs go to the shared log file.
	logger, logFile, err := logging.Open(cfg.LogPath, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "book-buddy-mcp: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger = logger.With("component", "mcp")

	var books bookStore
	if store, err := db.Open(cfg.DBPath); err != nil {
		logger.Warn("local store unavailable", "error", err)
	} else {
		defer store.Close()
		books = store
	}

	s := newServer(backend.New(cfg.BackendURL, nil), books, logger)
	logger.Info("serving mcp on stdio", "backend", cfg.BackendURL)
	if err := server.ServeStdio(s); err != nil {
		logger.Error("mcp server", "error", err)
		fmt.Fprintf(os.Stderr, "book-buddy-mcp: %v\n", err)
		os.Exit(1)
	}
}
