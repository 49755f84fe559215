package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/server"
)

var (
	tokenPassword string
	tokenSubject  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage control API credentials",
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print a bcrypt hash for OPERATOR_PASSWORD_HASH",
	RunE: func(cmd *cobra.Command, _ []string) error {
		password := tokenPassword
		if password == "" {
			password = os.Getenv("OPERATOR_PASSWORD")
		}
		if strings.TrimSpace(password) == "" {
			return errors.New("--password or OPERATOR_PASSWORD is required")
		}
		operator, err := config.NewOperatorConfig()
		if err != nil {
			return err
		}
		hash, err := operator.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token without a password login",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jwtConfig, err := config.NewJWTConfig()
		if err != nil {
			return err
		}
		subject := tokenSubject
		if subject == "" {
			operator, err := config.NewOperatorConfig()
			if err != nil {
				return err
			}
			subject = operator.Username
		}
		token, expiresAt, err := server.NewJWTService(jwtConfig).GenerateToken(subject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	hashCmd.Flags().StringVar(&tokenPassword, "password", "", "Password to hash (default: $OPERATOR_PASSWORD)")
	issueCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (default: $OPERATOR_USERNAME)")
	tokenCmd.AddCommand(hashCmd, issueCmd)
	rootCmd.AddCommand(tokenCmd)
}
