package main

import (
	"flag"
	"fmt"
	"os"

	intrnl "stompchat/internal"
	"stompchat/internal/app"
)

func main() {
	defaultServer := envOrDefault("STOMPCHAT_SERVER", "ws://localhost:8080/ws")
	defaultLogin := envOrDefault("STOMPCHAT_LOGIN", "")

	serverURL := flag.String("server", defaultServer, "WebSocket endpoint of the chat backend (e.g., ws://localhost:8080/ws)")
	httpBase := flag.String("http", envOrDefault("STOMPCHAT_HTTP", ""), "REST base URL (defaults to the server URL with an http scheme)")
	loginID := flag.String("login", defaultLogin, "default login id for the sign-in prompt")
	dbPath := flag.String("db", envOrDefault("STOMPCHAT_DB_PATH", ""), "sqlite cache path (defaults to a per-user data path)")
	logPath := flag.String("log", envOrDefault("STOMPCHAT_LOG_PATH", ""), "log file path")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("stompchat " + intrnl.Version)
		return
	}

	cfg := app.ClientConfig{
		ServerURL: *serverURL,
		HTTPBase:  *httpBase,
		LoginID:   *loginID,
		DBPath:    *dbPath,
		LogPath:   *logPath,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "stompchat: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
