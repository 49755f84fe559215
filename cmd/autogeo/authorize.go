package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanaz606/auto-geo/internal/session"
)

var authorizeMemory bool

var authorizeCmd = &cobra.Command{
	Use:   "authorize <platform>",
	Short: "Log in to a platform and store the session",
	Long: `Open a visible browser on the platform's sign-in page. Log in by hand; the
session is saved as an encrypted credential once the login is detected.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthorize,
}

func init() {
	authorizeCmd.Flags().BoolVar(&authorizeMemory, "memory", false, "Use an in-memory store (for trying the flow)")
	rootCmd.AddCommand(authorizeCmd)
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, authorizeMemory)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.sessions()
	if err != nil {
		return err
	}

	task, err := sessions.StartAuthorization(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "authorization task %s started, log in using the browser window\n", task.ID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !task.Status.Terminal() {
		select {
		case <-ctx.Done():
			_ = sessions.CloseAuthTask(task.ID)
			return ctx.Err()
		case <-ticker.C:
		}
		if task, err = sessions.AuthTask(task.ID); err != nil {
			return err
		}
	}

	if task.Status != session.AuthSuccess {
		if task.Error == "" {
			task.Error = string(task.Status)
		}
		return fmt.Errorf("authorization %s: %s", task.Status, task.Error)
	}
	fmt.Fprintf(out, "authorized %s account %q (credential %s)\n", task.Platform, task.Account, task.CredentialID)
	return nil
}
