package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"livedash/internal/api"
	"livedash/internal/auth"
	"livedash/internal/credential"
	"livedash/internal/logger"
	"livedash/internal/store"
	"livedash/internal/trace"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if err := trace.Init("login"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	configPath := flag.String("config", "config.yaml", "path to config file")
	username := flag.String("username", "", "account username (overrides config and DASH_USERNAME)")
	password := flag.String("password", "", "account password (overrides config and DASH_PASSWORD)")
	logout := flag.Bool("logout", false, "clear the stored token and exit")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() { _ = trace.Shutdown(context.Background()) }()

	cfg, err := store.LoadConfig(*configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", *configPath)
		os.Exit(1)
	}
	slot := credential.NewFile(cfg.TokenFile)

	if *logout {
		if err := slot.Clear(); err != nil {
			logger.ErrorWithErr(ctx, "Failed to clear token", err)
			os.Exit(1)
		}
		fmt.Println("Logged out.")
		return
	}

	user, pass := cfg.Login.Username, cfg.Login.Password
	if *username != "" {
		user = *username
	}
	if *password != "" {
		pass = *password
	}
	if cfg.APIBase == "" || user == "" || pass == "" {
		fmt.Fprintln(os.Stderr, "api_base, username and password are required")
		os.Exit(2)
	}

	client := auth.NewClient(cfg.APIBase, slot, api.WithTimeout(15*time.Second), api.WithLogging(true))
	if _, err := client.Login(ctx, user, pass); err != nil {
		var le *auth.LoginError
		if errors.As(err, &le) {
			fmt.Fprintf(os.Stderr, "Login failed: %s\n", le.Detail)
		} else {
			fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Logged in. Token stored in %s\n", slot.Path())
}
