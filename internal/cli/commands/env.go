package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/session"
	"github.com/physicstutor/tutorportal/internal/validation"
)

// profileWait bounds how long a command waits for the profile after
// signing in
const profileWait = 10 * time.Second

// Env is what every command needs. Tests replace the stores and prompts.
type Env struct {
	BackendURL string
	AnonKey    string
	SiteURL    string
	Timeout    time.Duration

	Tokens    backend.TokenStore
	Persister session.Persister
	Logger    zerolog.Logger

	// ReadPassword prompts for a secret without echo
	ReadPassword func(prompt string) (string, error)
	// OpenBrowser opens url in the default browser
	OpenBrowser func(url string) error
}

// withApp runs fn on a freshly started application instance. Each command
// invocation is a reload: the stored session is resolved before fn runs
// and the instance is closed afterwards.
func withApp(cmd *cobra.Command, env *Env, fn func(ctx context.Context, app *auth.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := backend.NewClient(env.BackendURL, env.AnonKey, env.Timeout)
	a := backend.NewAuth(client, env.Tokens, env.Logger)
	app := auth.NewApp(ctx, a, env.Persister, validation.New(), env.SiteURL, env.Logger)
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Close()

	if err := app.WaitReady(ctx); err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	return fn(ctx, app)
}

// waitForUser waits until userID and their profile are in the store
func waitForUser(ctx context.Context, app *auth.App, userID string) session.State {
	ctx, cancel := context.WithTimeout(ctx, profileWait)
	defer cancel()

	state, _ := app.Store.WaitFor(ctx, func(st session.State) bool {
		return st.User != nil && st.User.ID == userID && !st.Loading
	})
	return state
}

// resolvePassword returns the flag value, then the environment variable,
// then prompts
func resolvePassword(env *Env, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv("TUTORPORTAL_PASSWORD"); v != "" {
		return v, nil
	}
	return env.ReadPassword(prompt)
}

func resolveEmail(flagValue string) (string, error) {
	if flagValue == "" {
		flagValue = os.Getenv("TUTORPORTAL_EMAIL")
	}
	if flagValue == "" {
		return "", fmt.Errorf("email is required (use --email flag or TUTORPORTAL_EMAIL env var)")
	}
	return flagValue, nil
}

// TerminalPassword reads a password from the terminal
func TerminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or TUTORPORTAL_PASSWORD env var)")
	}

	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func displayName(state session.State) string {
	if state.Profile != nil && state.Profile.FullName != "" {
		return state.Profile.FullName
	}
	if state.User != nil {
		return state.User.Email
	}
	return ""
}
