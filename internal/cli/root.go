// Package cli is the terminal client for the tutoring portal.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/physicstutor/tutorportal/internal/cli/auth"
	"github.com/physicstutor/tutorportal/internal/cli/commands"
	"github.com/physicstutor/tutorportal/internal/config"
	"github.com/physicstutor/tutorportal/internal/logger"
	"github.com/physicstutor/tutorportal/internal/session"
)

// NewRootCmd builds the command tree on env
func NewRootCmd(version string, env *commands.Env) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "tutorportal",
		Short: "Tutorportal - Physics tutoring from the terminal",
		Long: `Tutorportal CLI - Sign in to the physics tutoring portal.

The session is kept in the OS keychain and survives between commands,
just like a browser tab that is reloaded.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				env.Logger = env.Logger.Level(zerolog.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log backend traffic to stderr")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tutorportal version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewSignUpCmd(env))
	rootCmd.AddCommand(commands.NewLoginCmd(env))
	rootCmd.AddCommand(commands.NewLogoutCmd(env))
	rootCmd.AddCommand(commands.NewWhoamiCmd(env))
	rootCmd.AddCommand(commands.NewResetPasswordCmd(env))
	rootCmd.AddCommand(commands.NewDashCmd(env))

	return rootCmd
}

// Execute runs the CLI against the configured backend
func Execute(version string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	path, err := session.DefaultFilePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	env := &commands.Env{
		BackendURL:   cfg.Backend.URL,
		AnonKey:      cfg.Backend.AnonKey,
		SiteURL:      cfg.Server.SiteURL,
		Timeout:      cfg.Backend.Timeout,
		Tokens:       auth.NewKeyringTokenStore(cfg.Backend.URL),
		Persister:    &session.FilePersister{Path: path},
		Logger:       logger.New(os.Stderr, "console").Level(zerolog.WarnLevel),
		ReadPassword: commands.TerminalPassword,
		OpenBrowser:  commands.OpenBrowser,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version, env).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
