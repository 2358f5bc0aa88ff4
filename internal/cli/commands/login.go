package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// NewLoginCmd creates the login command
func NewLoginCmd(env *Env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the tutoring portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, env, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set TUTORPORTAL_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set TUTORPORTAL_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, env *Env, email, password string) error {
	email, err := resolveEmail(email)
	if err != nil {
		return err
	}
	password, err = resolvePassword(env, password, "Password: ")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	return withApp(cmd, env, func(ctx context.Context, app *auth.App) error {
		fmt.Fprintf(out, "Logging in to %s...\n", env.BackendURL)

		user, err := app.Service.SignIn(ctx, validation.SignInForm{Email: email, Password: password})
		if err != nil {
			return fmt.Errorf("login failed: %s", auth.Message(err))
		}

		state := waitForUser(ctx, app, user.ID)

		fmt.Fprintln(out, "✓ Login successful!")
		fmt.Fprintf(out, "  User: %s (%s)\n", displayName(state), user.Email)
		if state.IsAdmin() {
			fmt.Fprintln(out, "  Role: Admin")
		}
		return nil
	})
}
