package main

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/campushq/coursetrack/auth"
	"github.com/campushq/coursetrack/store"
	"github.com/campushq/coursetrack/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coursetrack API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	authStore := newAuthStore(cfg)

	service, err := newSyncService(cfg, db, authStore)
	if err != nil {
		return err
	}

	// Browser logins always use a visible window; the student has to
	// type a password and approve a push.
	tracker, err := auth.NewTracker(auth.TrackerOptions{
		Store: authStore,
		OpenSession: func() (auth.LoginSession, error) {
			manager, err := openManager(cfg, false)
			if err != nil {
				return nil, err
			}
			if err := manager.Page().Navigate(manager.StaticBaseURL()); err != nil {
				manager.Close()
				return nil, fmt.Errorf("open login page: %w", err)
			}
			return manager, nil
		},
	})
	if err != nil {
		return err
	}

	handler, err := web.NewHandler(web.Options{
		Syncer:  service,
		Auth:    authStore,
		Tracker: tracker,
		Store:   db,
	})
	if err != nil {
		return err
	}

	listen := serveListen
	if listen == "" {
		listen = cfg.Server.Listen
	}
	logrus.WithField("listen", listen).Info("coursetrack serving")
	return http.ListenAndServe(listen, handler)
}
