package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/fieldchat/internal/daemon"
	"github.com/matheus3301/fieldchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "chat server URL (overrides config)")
	userFlag := flag.String("user", "", "user id to connect as (overrides config)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	cfg, err := session.LoadConfig(sessionName)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *userFlag != "" {
		cfg.UserID = *userFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if err := session.ValidateIdentity(cfg.UserID); err != nil {
		fatal(err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
