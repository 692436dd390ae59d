// Command servicetoken prints a bearer token for a collaborator service,
// signed with JWT_SIGNING_KEY.
//
//	JWT_SIGNING_KEY=... servicetoken -service job-portal -ttl 720h
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/observer/collegecue/internal/auth"
)

func main() {
	service := flag.String("service", "", "name of the calling service")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime")
	flag.Parse()

	tokens, err := auth.NewTokenService(os.Getenv("JWT_SIGNING_KEY"), *ttl)
	if err != nil {
		slog.Error("invalid JWT_SIGNING_KEY", "error", err)
		os.Exit(1)
	}

	token, expiresAt, err := tokens.Issue(*service)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		os.Exit(1)
	}

	slog.Info("token issued", "service", *service, "expires_at", expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
