// Command devtoken mints a bearer token signed with FORMSMITH_JWT_SECRET for
// local development against the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"formsmith/api/internal/auth"
	"formsmith/api/internal/config"
	"formsmith/api/internal/logging"
	"formsmith/api/internal/util"
)

func main() {
	email := flag.String("email", "", "actor email (required)")
	name := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to FORMSMITH_TOKEN_TTL_SECONDS")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, true)

	if strings.TrimSpace(*email) == "" {
		flag.Usage()
		os.Exit(2)
	}
	lifetime := cfg.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Claims{
		Sub:   util.NewID("usr"),
		Email: strings.TrimSpace(*email),
		Name:  strings.TrimSpace(*name),
		JTI:   util.NewID("jti"),
		Exp:   time.Now().Add(lifetime).Unix(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}
	fmt.Println(token)
}
