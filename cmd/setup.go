package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/roomchat/internal/profile"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure your display name and default room (re-run anytime)",
	// Bypass the normal PersistentPreRunE so setup works before a profile exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd)
	},
}

// runSetup runs the wizard on the command's streams and saves the result.
func runSetup(cmd *cobra.Command) error {
	var existing *profile.Profile
	if profile.Exists() {
		if p, err := profile.Load(); err == nil {
			existing = p
		}
	}

	prof, err := profile.RunSetup(cmd.InOrStdin(), cmd.OutOrStdout(), existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}
	if err := profile.Save(prof); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "  ✓ Profile saved.")
	fmt.Fprintf(out, "  Run 'roomchat chat' to join #%s as %s.\n", prof.DefaultRoom, prof.Name)
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
