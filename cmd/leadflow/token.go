package main

import (
	"fmt"
	"time"

	"github.com/bissquit/leadflow/internal/domain"
	"github.com/bissquit/leadflow/internal/pkg/auth"
	"github.com/spf13/cobra"
)

var (
	tokenRole string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API bearer token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := domain.Role(tokenRole)
		if !role.IsValid() {
			return fmt.Errorf("invalid role %q", tokenRole)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		issuer, err := auth.NewJWT(cfg.Auth.Secret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}

		token, err := issuer.Issue(args[0], role, tokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleOperator), "Role claim: viewer, operator or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
