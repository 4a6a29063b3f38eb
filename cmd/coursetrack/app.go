package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campushq/coursetrack/auth"
	"github.com/campushq/coursetrack/browser"
	"github.com/campushq/coursetrack/internal/config"
	"github.com/campushq/coursetrack/reconcile"
	"github.com/campushq/coursetrack/session"
	"github.com/campushq/coursetrack/store"
	"github.com/campushq/coursetrack/syncer"
)

func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Load(cwd)
}

// openManager opens a browser tab against the configured driver and
// wraps it in a session manager. The caller owns Close.
func openManager(cfg *config.Config, headless bool) (*session.Manager, error) {
	page, err := browser.OpenRemote(browser.Options{
		DriverURL:   cfg.Browser.DriverURL,
		Headless:    headless,
		PageTimeout: time.Duration(cfg.Session.PageTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	manager, err := session.NewManager(session.Options{
		Page:              page,
		BaseURL:           cfg.Site.BaseURL,
		LoginDomain:       cfg.Site.LoginDomain,
		MFADomains:        cfg.Site.MFADomains,
		ExpiryMarkers:     cfg.Site.ExpiryMarkers,
		MFATimeout:        time.Duration(cfg.Session.MFATimeoutSeconds) * time.Second,
		KeepAliveInterval: time.Duration(cfg.Session.KeepAliveSeconds) * time.Second,
		MaxRefreshes:      cfg.Session.MaxRefreshes,
	})
	if err != nil {
		page.Close()
		return nil, err
	}
	return manager, nil
}

func configHeadless(cfg *config.Config) bool {
	if cfg.Browser.Headless == nil {
		return true
	}
	return *cfg.Browser.Headless
}

func newAuthStore(cfg *config.Config) *auth.Store {
	return auth.NewStore(auth.NewFileSnapshotStore(cfg.Session.SnapshotPath), logrus.StandardLogger())
}

func newSyncService(cfg *config.Config, db *store.Store, authStore *auth.Store) (*syncer.Service, error) {
	reconciler, err := reconcile.New(reconcile.Options{Store: db})
	if err != nil {
		return nil, err
	}
	tz, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		return nil, err
	}
	return syncer.New(syncer.Options{
		Auth:       authStore,
		Store:      db,
		Reconciler: reconciler,
		OpenSession: func() (syncer.SyncSession, error) {
			return openManager(cfg, configHeadless(cfg))
		},
		Timezone: tz,
	})
}
