package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "register":
		cmdRegister()
	case "login":
		cmdLogin()
	case "logout":
		cmdLogout()
	case "unlock":
		cmdUnlock()
	case "enable":
		cmdEnable()
	case "disable":
		cmdDisable()
	case "sync":
		cmdSync()
	case "resolve":
		cmdResolve()
	case "status":
		cmdStatus()
	case "goal":
		cmdGoal()
	case "watch":
		cmdWatch()
	case "serve":
		cmdServe()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: goalsync <command> [args]

Commands:
  register <server-url> <user-id>   Create an account and derive the session key
  login <server-url> <user-id>      Log in (--remember persists the key at rest)
  logout                            Clear tokens and key material
  unlock                            Re-derive the session key from your password
  enable <server-url> <user-id>     Log in and turn sync on (--remember supported)
  disable                           Turn sync off
  sync                              Run one sync (--direction upload|download|both, --force)
  resolve <local|remote>            Settle a sync conflict
  status                            Show sync settings and server health
  goal set <id> <percent|fixed>     Set a goal's allocation target or mark it fixed
  goal list                         List goals
  goal rm <id>                      Remove a goal
  watch                             Run automatic background sync in the foreground
  serve [addr]                      Run a local sync server (default :7300)`)
}
