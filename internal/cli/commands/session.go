package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(cmd, env, func(ctx context.Context, app *auth.App) error {
				if !app.Store.Snapshot().IsAuthenticated() {
					fmt.Fprintln(out, "Not logged in.")
					return nil
				}
				if err := app.Service.SignOut(ctx); err != nil {
					return fmt.Errorf("logout failed: %s", auth.Message(err))
				}
				fmt.Fprintln(out, "✓ Logged out")
				return nil
			})
		},
	}
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(env *Env) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(cmd, env, func(ctx context.Context, app *auth.App) error {
				state := app.Store.Snapshot()

				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(state)
				}

				if !state.IsAuthenticated() {
					fmt.Fprintln(out, "Not logged in. Run 'tutorportal login' first.")
					return nil
				}

				fmt.Fprintf(out, "User:  %s (%s)\n", displayName(state), state.User.Email)
				role := "Student"
				if state.IsAdmin() {
					role = "Admin"
				}
				fmt.Fprintf(out, "Role:  %s\n", role)
				if state.Profile == nil {
					fmt.Fprintln(out, "Profile could not be loaded.")
				} else if state.Profile.Status != "" {
					fmt.Fprintf(out, "Status: %s\n", state.Profile.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the session as JSON")
	return cmd
}

// NewResetPasswordCmd creates the reset-password command
func NewResetPasswordCmd(env *Env) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := resolveEmail(email)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return withApp(cmd, env, func(ctx context.Context, app *auth.App) error {
				if err := app.Service.ResetPassword(ctx, validation.ResetForm{Email: email}); err != nil {
					return fmt.Errorf("reset failed: %s", auth.Message(err))
				}
				fmt.Fprintf(out, "If an account exists for %s, a reset link is on its way.\n", email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set TUTORPORTAL_EMAIL)")
	return cmd
}
