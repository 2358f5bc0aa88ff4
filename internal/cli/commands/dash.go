package commands

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/physicstutor/tutorportal/internal/guard"
)

// NewDashCmd creates the dash command
func NewDashCmd(env *Env) *cobra.Command {
	var admin bool

	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Open the portal dashboard in browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := guard.DashboardPath
			if admin {
				path = guard.AdminPath
			}
			dashboardURL := env.SiteURL + path

			fmt.Fprintf(cmd.OutOrStdout(), "URL: %s\n", dashboardURL)
			if err := env.OpenBrowser(dashboardURL); err != nil {
				return fmt.Errorf("failed to open browser: %w\nPlease visit: %s", err, dashboardURL)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&admin, "admin", false, "Open the admin area instead")
	return cmd
}

// OpenBrowser opens the URL in the default browser
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
