package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lovincyrus/goalsync/internal/store"
)

func cmdGoal() {
	if len(os.Args) < 3 {
		fatal("usage: goalsync goal <set|list|rm> ...")
	}

	e := openEngine()
	defer e.close()

	switch os.Args[2] {
	case "set":
		goalSet(e)
	case "list":
		goalList(e)
	case "rm":
		goalRemove(e)
	default:
		fatal("unknown goal subcommand: %s", os.Args[2])
	}
}

func goalSet(e *engine) {
	if len(os.Args) != 5 {
		fatal("usage: goalsync goal set <id> <percent|fixed>")
	}
	id, value := os.Args[3], os.Args[4]

	g := store.Goal{ID: id, UpdatedAt: time.Now()}
	if value == "fixed" {
		g.Fixed = true
	} else {
		pct, err := strconv.ParseFloat(value, 64)
		if err != nil || pct < 0 || pct > 100 {
			fatal("percent must be a number between 0 and 100, or 'fixed'")
		}
		g.TargetPercent = pct
	}
	if err := e.db.UpsertGoal(g); err != nil {
		fatal("save goal: %v", err)
	}
	fmt.Printf("Goal %s saved.\n", id)
}

func goalList(e *engine) {
	goals, err := e.db.ListGoals()
	if err != nil {
		fatal("list goals: %v", err)
	}
	if len(goals) == 0 {
		fmt.Println("No goals.")
		return
	}
	for _, g := range goals {
		if g.Fixed {
			fmt.Printf("  %-20s fixed\n", g.ID)
		} else {
			fmt.Printf("  %-20s %.1f%%\n", g.ID, g.TargetPercent)
		}
	}
}

func goalRemove(e *engine) {
	if len(os.Args) != 4 {
		fatal("usage: goalsync goal rm <id>")
	}
	n, err := e.db.DeleteGoal(os.Args[3])
	if err != nil {
		fatal("remove goal: %v", err)
	}
	if n == 0 {
		fatal("no goal named %s", os.Args[3])
	}
	fmt.Printf("Goal %s removed.\n", os.Args[3])
}
