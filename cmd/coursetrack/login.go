package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/campushq/coursetrack/auth"
	"github.com/campushq/coursetrack/internal/config"
	"github.com/campushq/coursetrack/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the learning site and save the session",
	Long: `Log in to the learning site and save the session.

By default, opens a visible browser window and waits for you to
complete the login (including any second-factor approval) yourself.
With --netid, submits credentials directly in a background browser,
prompting for the password on the terminal.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var loginNetID string

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginNetID, "netid", "", "Net ID for direct credential login")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	authStore := newAuthStore(cfg)

	if loginNetID != "" {
		return credentialLogin(cfg, authStore)
	}
	return browserLogin(cfg, authStore)
}

func credentialLogin(cfg *config.Config, authStore *auth.Store) error {
	fmt.Fprintf(os.Stderr, "Password for %s: ", loginNetID)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	manager, err := openManager(cfg, configHeadless(cfg))
	if err != nil {
		return err
	}
	defer manager.Close()

	fmt.Println("Logging in; approve the push notification if one arrives...")
	if err := manager.Authenticate(loginNetID, string(password)); err != nil {
		return err
	}
	return saveSession(manager, authStore)
}

func browserLogin(cfg *config.Config, authStore *auth.Store) error {
	manager, err := openManager(cfg, false)
	if err != nil {
		return err
	}
	defer manager.Close()

	if manager.CheckAlreadyLoggedIn() {
		fmt.Println("Already logged in.")
		return saveSession(manager, authStore)
	}

	fmt.Println("A browser window is open; complete the login there.")
	err = manager.WaitForLogin(5*time.Minute, func() {
		fmt.Println("Waiting for second-factor approval...")
	})
	if err != nil {
		return err
	}
	return saveSession(manager, authStore)
}

func saveSession(manager *session.Manager, authStore *auth.Store) error {
	snapshot, err := manager.Export()
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	if err := authStore.SetSnapshot(snapshot); err != nil {
		return err
	}
	fmt.Println("Logged in; session saved.")
	return nil
}
