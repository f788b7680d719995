package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/lovincyrus/goalsync/internal/store"
	"github.com/lovincyrus/goalsync/internal/sync"
)

func dataDir() string {
	if d := os.Getenv("GOALSYNC_DIR"); d != "" {
		return d
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".goalsync")
}

// engine bundles the wired sync components for CLI commands.
type engine struct {
	db     *store.DB
	client *sync.Client
	tokens *sync.TokenStore
	creds  *sync.CredentialManager
	orch   *sync.Orchestrator
}

// openEngine opens the local database and wires the engine, restoring a
// remembered master key if the user opted in.
func openEngine() *engine {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal("create data dir: %v", err)
	}
	db, err := store.Open(filepath.Join(dir, "goalsync.db"))
	if err != nil {
		fatal("open database: %v", err)
	}

	client := sync.NewClient(nil)
	tokens := sync.NewTokenStore(db, client)
	creds := sync.NewCredentialManager(db, client, tokens, nil)
	orch := sync.NewOrchestrator(db, creds, tokens, client, nil)

	if _, err := creds.RestoreRememberedKey(); err != nil {
		fatal("restore remembered key: %v", err)
	}
	return &engine{db: db, client: client, tokens: tokens, creds: creds, orch: orch}
}

func (e *engine) close() {
	e.db.Close()
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("read password: %v", err)
	}
	return string(pw)
}

// fatalErr renders an engine error with the classifier's guidance.
func fatalErr(err error) {
	c := sync.Classify(err)
	fmt.Fprintf(os.Stderr, "Error: %v\n%s (%s)\n", err, c.UserMessage, c.PrimaryAction)
	if c.RetryAfterSeconds > 0 {
		fmt.Fprintf(os.Stderr, "Retry in %d seconds.\n", c.RetryAfterSeconds)
	}
	os.Exit(1)
}

func fatal(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}
