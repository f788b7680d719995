package main

import (
	"log"
	"net/http"
	"os"

	"github.com/lovincyrus/goalsync/internal/server"
)

func cmdServe() {
	addr := ":7300"
	if len(os.Args) > 2 {
		addr = os.Args[2]
	} else if a := os.Getenv("GOALSYNC_ADDR"); a != "" {
		addr = a
	}

	logger := log.New(os.Stderr, "[server] ", log.LstdFlags)
	s := server.New(logger)
	logger.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, s.Handler()); err != nil {
		fatal("server: %v", err)
	}
}
