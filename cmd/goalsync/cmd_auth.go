package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lovincyrus/goalsync/internal/store"
)

func authArgs(cmd string) (serverURL, userID string, remember bool) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.BoolVar(&remember, "remember", false, "persist the encryption key at rest")
	fs.Parse(os.Args[2:])
	if fs.NArg() != 2 {
		fatal("usage: goalsync %s [--remember] <server-url> <user-id>", cmd)
	}
	return fs.Arg(0), fs.Arg(1), remember
}

func cmdRegister() {
	serverURL, userID, remember := authArgs("register")
	e := openEngine()
	defer e.close()

	pw := promptPassword("Password: ")
	if pw != promptPassword("Confirm password: ") {
		fatal("passwords do not match")
	}
	if remember {
		if err := e.creds.SetRememberKey(true); err != nil {
			fatal("remember key: %v", err)
		}
	}
	if err := e.creds.Register(context.Background(), serverURL, userID, pw); err != nil {
		fatalErr(err)
	}
	fmt.Printf("Registered %s. Run 'goalsync login' to start syncing.\n", userID)
}

func cmdLogin() {
	serverURL, userID, remember := authArgs("login")
	e := openEngine()
	defer e.close()

	pw := promptPassword("Password: ")
	if remember {
		if err := e.creds.SetRememberKey(true); err != nil {
			fatal("remember key: %v", err)
		}
	}
	if err := e.creds.Login(context.Background(), serverURL, userID, pw); err != nil {
		fatalErr(err)
	}
	fmt.Printf("Logged in as %s.\n", userID)
}

func cmdLogout() {
	e := openEngine()
	defer e.close()

	if err := e.creds.Logout(); err != nil {
		fatalErr(err)
	}
	fmt.Println("Logged out.")
}

func cmdUnlock() {
	e := openEngine()
	defer e.close()

	pw := promptPassword("Password: ")
	if err := e.creds.Unlock(pw); err != nil {
		fatalErr(err)
	}
	fmt.Println("Unlocked.")
}

func cmdEnable() {
	serverURL, userID, remember := authArgs("enable")
	e := openEngine()
	defer e.close()

	pw := promptPassword("Password: ")
	if remember {
		if err := e.creds.SetRememberKey(true); err != nil {
			fatal("remember key: %v", err)
		}
	}
	if err := e.creds.Login(context.Background(), serverURL, userID, pw); err != nil {
		fatalErr(err)
	}
	if err := e.db.SetSetting(store.KeySyncEnabled, "true"); err != nil {
		fatal("enable sync: %v", err)
	}
	if err := e.db.SetSetting(store.KeyAutoSyncEnabled, "true"); err != nil {
		fatal("enable auto sync: %v", err)
	}
	fmt.Println("Sync enabled. Run 'goalsync sync' for a first pass.")
}

func cmdDisable() {
	e := openEngine()
	defer e.close()

	if err := e.db.SetSetting(store.KeySyncEnabled, "false"); err != nil {
		fatal("disable sync: %v", err)
	}
	if err := e.db.SetSetting(store.KeyAutoSyncEnabled, "false"); err != nil {
		fatal("disable auto sync: %v", err)
	}
	fmt.Println("Sync disabled. Local data and credentials are untouched.")
}
