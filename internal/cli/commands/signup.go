package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// NewSignUpCmd creates the signup command
func NewSignUpCmd(env *Env) *cobra.Command {
	var email, name, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a tutoring portal account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignUp(cmd, env, email, name, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set TUTORPORTAL_EMAIL)")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set TUTORPORTAL_PASSWORD, will prompt if not provided)")

	return cmd
}

func runSignUp(cmd *cobra.Command, env *Env, email, name, password string) error {
	email, err := resolveEmail(email)
	if err != nil {
		return err
	}

	// A password given up front is its own confirmation
	confirm := password
	if confirm == "" {
		confirm = os.Getenv("TUTORPORTAL_PASSWORD")
	}
	password, err = resolvePassword(env, password, "Password: ")
	if err != nil {
		return err
	}
	if confirm == "" {
		if confirm, err = env.ReadPassword("Confirm password: "); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	return withApp(cmd, env, func(ctx context.Context, app *auth.App) error {
		outcome, err := app.Service.SignUp(ctx, validation.SignUpForm{
			FullName: name,
			Email:    email,
			Password: password,
			Confirm:  confirm,
		})
		if err != nil {
			return fmt.Errorf("sign-up failed: %s", auth.Message(err))
		}

		if outcome.ConfirmationPending {
			fmt.Fprintln(out, "✓ Account created.")
			fmt.Fprintln(out, "  Check your email to confirm your account, then run 'tutorportal login'.")
			return nil
		}

		state := waitForUser(ctx, app, outcome.UserID)
		fmt.Fprintln(out, "✓ Account created and logged in!")
		fmt.Fprintf(out, "  User: %s (%s)\n", displayName(state), email)
		return nil
	})
}
