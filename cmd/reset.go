package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset learner data",
	Long: `Reset learner data.

By default only local sentence progress is cleared. --onboarding asks for
interests again on next launch, and --all also signs out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		onboarding, _ := cmd.Flags().GetBool("onboarding")

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		if all {
			if err := d.account.Logout(ctx); err != nil {
				return err
			}
			fmt.Println("Signed out and cleared local data.")
			return nil
		}

		d.progress.Reset()
		if err := d.progress.Save(ctx, d.store.KV()); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}
		fmt.Println("Local progress cleared.")
		if onboarding {
			if err := d.account.ResetOnboarding(ctx); err != nil {
				return err
			}
			fmt.Println("Onboarding will run again on next launch.")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("all", false, "Also sign out and drop cached sentences")
	resetCmd.Flags().Bool("onboarding", false, "Also forget onboarding answers")
}
