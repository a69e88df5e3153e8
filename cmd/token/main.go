package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk-mail/internal/auth"
	"github.com/spec-kit/helpdesk-mail/internal/config"
	"github.com/spec-kit/helpdesk-mail/internal/domain"
)

var (
	emailFlag string
	roleFlag  string
	ttlFlag   int
)

var rootCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a helpdesk agent",
	Long: `Issue a bearer token for the administrative API, signed with AUTH_JWT_SECRET.

Intended for local use and automation; there is no agent directory, the token
itself carries the agent email and role.`,
	SilenceUsage: true,
	RunE:         runIssue,
}

func init() {
	rootCmd.Flags().StringVar(&emailFlag, "email", "", "Agent email address")
	rootCmd.Flags().StringVar(&roleFlag, "role", string(domain.AgentRoleAgent), "Agent role (AGENT or ADMIN)")
	rootCmd.Flags().IntVar(&ttlFlag, "ttl", 0, "Token lifetime in minutes (defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	_ = rootCmd.MarkFlagRequired("email")
}

func runIssue(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ttl := cfg.Auth.AccessTokenTTLMinutes
	if ttlFlag > 0 {
		ttl = ttlFlag
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl)
	token, expiresAt, err := tokens.GenerateToken(domain.Agent{
		Email: emailFlag,
		Role:  domain.AgentRole(strings.ToUpper(roleFlag)),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
