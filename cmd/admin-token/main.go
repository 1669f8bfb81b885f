// Command admin-token prints a bearer token for the admin routes, signed with
// ADMIN_JWT_SECRET.
//
//	admin-token                 subject "ops", valid for 24h
//	admin-token <subject> [ttl] ttl is a Go duration such as 30m or 8h
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	appconfig "github.com/wolfman30/proposal-wizard/internal/config"
	httpmiddleware "github.com/wolfman30/proposal-wizard/internal/http/middleware"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const (
	defaultSubject = "ops"
	defaultTTL     = 24 * time.Hour
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg.AdminJWTSecret, os.Args[1:], os.Stdout); err != nil {
		logger.Error("issue admin token failed", "error", err)
		os.Exit(1)
	}
}

func run(secret string, args []string, out io.Writer) error {
	if secret == "" {
		return errors.New("ADMIN_JWT_SECRET is required")
	}
	subject, ttl := defaultSubject, defaultTTL
	if len(args) >= 1 && args[0] != "" {
		subject = args[0]
	}
	if len(args) >= 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid ttl: %s", args[1])
		}
		ttl = d
	}

	token, err := httpmiddleware.IssueAdminToken(secret, subject, ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
