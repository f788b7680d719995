package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/lovincyrus/goalsync/internal/store"
	"github.com/lovincyrus/goalsync/internal/sync"
)

func cmdSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	direction := fs.String("direction", "both", "upload, download, or both")
	force := fs.Bool("force", false, "skip conflict detection, last writer wins")
	fs.Parse(os.Args[2:])

	e := openEngine()
	defer e.close()
	ensureKey(e)

	err := e.orch.PerformSync(context.Background(), sync.Options{
		Direction: sync.Direction(*direction),
		Force:     *force,
	})
	if err != nil {
		fatalErr(err)
	}

	if c := e.orch.PendingConflict(); c != nil {
		printConflict(c)
		os.Exit(2)
	}
	fmt.Println("Sync complete.")
}

func cmdResolve() {
	if len(os.Args) != 3 {
		fatal("usage: goalsync resolve <local|remote>")
	}
	choice := os.Args[2]

	e := openEngine()
	defer e.close()
	ensureKey(e)

	// Conflicts do not survive the process, so re-run the sync to surface
	// the divergence again before settling it.
	ctx := context.Background()
	if err := e.orch.PerformSync(ctx, sync.Options{Direction: sync.DirectionBoth}); err != nil {
		fatalErr(err)
	}
	c := e.orch.PendingConflict()
	if c == nil {
		fmt.Println("No conflict to resolve; already in sync.")
		return
	}
	if err := e.orch.Resolve(ctx, choice, c); err != nil {
		fatalErr(err)
	}
	fmt.Printf("Conflict resolved, kept %s copy.\n", choice)
}

func cmdStatus() {
	e := openEngine()
	defer e.close()

	enabled, _ := e.db.GetSetting(store.KeySyncEnabled)
	auto, _ := e.db.GetSetting(store.KeyAutoSyncEnabled)
	serverURL, _ := e.db.GetSetting(store.KeyServerURL)
	userID, _ := e.db.GetSetting(store.KeyUserID)
	lastTime, _ := e.db.GetSetting(store.KeyLastSyncTime)

	fmt.Printf("Sync enabled:   %s\n", orDefault(enabled, "false"))
	fmt.Printf("Auto sync:      %s\n", orDefault(auto, "false"))
	fmt.Printf("Server:         %s\n", orDefault(serverURL, "(not configured)"))
	fmt.Printf("User:           %s\n", orDefault(userID, "(not configured)"))
	fmt.Printf("Session key:    %v\n", e.creds.HasSessionKey())
	fmt.Printf("Refresh token:  %v\n", e.tokens.HasValidRefreshToken())
	if lastTime != "" {
		fmt.Printf("Last sync:      %s (unix ms)\n", lastTime)
	} else {
		fmt.Println("Last sync:      never")
	}

	if serverURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if info, err := e.client.Health(ctx, serverURL); err != nil {
			fmt.Printf("Server health:  unreachable (%v)\n", err)
		} else {
			fmt.Printf("Server health:  %s (v%s)\n", info.Status, info.Version)
		}
	}
}

func cmdWatch() {
	e := openEngine()
	defer e.close()
	ensureKey(e)

	sched := sync.NewScheduler(e.orch, e.creds, e.tokens, e.db, nil)
	sched.Start()
	defer sched.Stop()

	e.orch.OnConflict = func(c *sync.Conflict) { printConflict(c) }
	fmt.Println("Watching for changes; Ctrl-C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
	fmt.Println("\nStopping.")
}

// ensureKey prompts for the password when no session key is available, so
// commands work without --remember.
func ensureKey(e *engine) {
	if e.creds.HasSessionKey() {
		return
	}
	if err := e.creds.Unlock(promptPassword("Password: ")); err != nil {
		fatalErr(err)
	}
}

func printConflict(c *sync.Conflict) {
	fmt.Println("Conflict: another device changed your goals since this one last synced.")
	fmt.Printf("  local:  %d goals, written %s\n",
		len(c.Local.GoalTargets)+len(c.Local.GoalFixed), formatMillis(c.LocalTimestamp))
	fmt.Printf("  remote: %d goals, written %s by device %s\n",
		len(c.Remote.GoalTargets)+len(c.Remote.GoalFixed), formatMillis(c.RemoteTimestamp), c.RemoteDeviceID)
	fmt.Println("Run 'goalsync resolve local' or 'goalsync resolve remote'.")
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format(time.RFC3339)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
