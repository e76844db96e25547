// Command issue-token prints a bearer token for a user id, signed with the
// server's AUTH_JWT_SECRET. It is meant for local development.
package main

import (
	"fmt"
	"os"

	"github.com/hiroki-koketsu/taskboard/internal/auth"
	"github.com/hiroki-koketsu/taskboard/internal/config"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: issue-token <user-id>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenLifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create token service: %v\n", err)
		os.Exit(1)
	}

	token, err := tokens.Issue(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
