package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/api"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in, creating the account on first use",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("KOTOBA_PASSWORD")
		}
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.account.Login(cmd.Context(), email, password); err != nil {
			return err
		}
		fmt.Println("Logged in as", email)
		if !d.account.Onboarded() {
			fmt.Println("Next: pick your interests with `kotoba onboard` or in `kotoba tui`.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget cached sentences",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.account.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Set interests, level and learning purposes",
	Long: `Set interests, level and learning purposes.

Run without flags to list the available choices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		if category == "" {
			printCatalog()
			return nil
		}
		subs, _ := cmd.Flags().GetStringSlice("sub")
		level, _ := cmd.Flags().GetString("level")
		purposes, _ := cmd.Flags().GetStringSlice("purpose")

		cat, ok := account.LookupCategory(category)
		if !ok {
			return fmt.Errorf("unknown category %q", category)
		}
		p := account.Profile{
			Category:      cat.ID,
			SubCategories: resolveLabels(cat.Subs, subs),
			Level:         level,
			Purposes:      resolveLabels(account.Purposes, purposes),
		}

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.account.CompleteOnboarding(cmd.Context(), p); err != nil {
			return err
		}
		lv, interests, codes := p.Codes()
		fmt.Printf("Saved: %s, level %d, %d interests, %d purposes\n", cat.Label, lv, len(interests), len(codes))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.requireLogin(); err != nil {
			return err
		}

		u, err := d.account.Me(cmd.Context())
		if err != nil {
			return err
		}
		printUser(u)
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Change name, level or notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		var s api.Settings
		if cmd.Flags().Changed("name") {
			s.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("level") {
			id, _ := cmd.Flags().GetString("level")
			lv, _, _ := account.Profile{Level: id}.Codes()
			s.Level = &lv
		}
		if cmd.Flags().Changed("notifications") {
			on, _ := cmd.Flags().GetBool("notifications")
			s.Notifications = &on
		}
		if s.Name == "" && s.Level == nil && s.Notifications == nil {
			return errors.New("nothing to change; pass --name, --level or --notifications")
		}

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.requireLogin(); err != nil {
			return err
		}

		u, err := d.account.UpdateSettings(cmd.Context(), s)
		if err != nil {
			return err
		}
		printUser(u)
		return nil
	},
}

func printUser(u *api.User) {
	fmt.Printf("Email:   %s\n", u.Email)
	if u.Name != "" {
		fmt.Printf("Name:    %s\n", u.Name)
	}
	level := fmt.Sprint(u.Level)
	if u.Level >= 0 && u.Level < len(account.Levels) {
		level = account.Levels[u.Level].Label
	}
	fmt.Printf("Level:   %s\n", level)
	fmt.Printf("Streak:  %d days, %d points\n", u.Streak, u.Points)
	if !u.Onboarded {
		fmt.Println("Onboarding not completed.")
	}
}

// resolveLabels accepts option labels or their numeric codes.
func resolveLabels(opts []account.Option, picked []string) []string {
	var out []string
	for _, s := range picked {
		s = strings.TrimSpace(s)
		for _, o := range opts {
			if o.Label == s || fmt.Sprint(o.Code) == s {
				out = append(out, o.Label)
				break
			}
		}
	}
	return out
}

func printCatalog() {
	fmt.Println("Categories (--category) and sub-categories (--sub):")
	for _, c := range account.Categories {
		fmt.Printf("  %-10s %s\n", c.ID, c.Label)
		for _, s := range c.Subs {
			fmt.Printf("      %4d  %s\n", s.Code, s.Label)
		}
	}
	fmt.Println("\nLevels (--level):")
	for _, l := range account.Levels {
		fmt.Printf("  %-4s %s (%s)\n", l.ID, l.Label, l.Desc)
	}
	fmt.Println("\nPurposes (--purpose):")
	for _, p := range account.Purposes {
		fmt.Printf("  %4d  %s\n", p.Code, p.Label)
	}
}

func init() {
	loginCmd.Flags().StringP("email", "e", "", "Account email")
	loginCmd.Flags().StringP("password", "p", "", "Account password (or KOTOBA_PASSWORD; prompted when empty)")
	_ = loginCmd.MarkFlagRequired("email")

	settingsCmd.Flags().String("name", "", "Display name")
	settingsCmd.Flags().String("level", "", "Japanese level lv0..lv5")
	settingsCmd.Flags().Bool("notifications", true, "Daily reminder notifications")

	onboardCmd.Flags().String("category", "", "Interest category ID, e.g. anime")
	onboardCmd.Flags().StringSlice("sub", nil, "Sub-category label or code (repeatable)")
	onboardCmd.Flags().String("level", "lv2", "Japanese level lv0..lv5")
	onboardCmd.Flags().StringSlice("purpose", nil, "Purpose label or code (repeatable)")
}
