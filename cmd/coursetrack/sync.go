package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/campushq/coursetrack/store"
	"github.com/campushq/coursetrack/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync against the learning site",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

var (
	syncHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	syncFailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	syncOkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func runSync(cmd *cobra.Command, args []string) error {
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
	if !authStore.Authenticated() {
		return fmt.Errorf("not logged in; run `coursetrack login` first")
	}

	service, err := newSyncService(cfg, db, authStore)
	if err != nil {
		return err
	}

	taskID, err := service.StartSync()
	if err != nil {
		return err
	}

	status, err := watchSync(service, taskID)
	if err != nil {
		return err
	}

	if status.State == syncer.StateFailed {
		fmt.Println(syncFailStyle.Render("sync failed: " + status.Error))
		return fmt.Errorf("sync failed")
	}

	fmt.Println(syncOkStyle.Render(fmt.Sprintf(
		"done: %d new, %d modified, %d unchanged across %d courses",
		status.Summary.New, status.Summary.Modified, status.Summary.Unchanged, status.CoursesScraped,
	)))
	if status.Summary.Errors > 0 {
		fmt.Printf("%d record(s) could not be saved\n", status.Summary.Errors)
	}
	for _, course := range status.FailedCourses {
		fmt.Println(syncFailStyle.Render("could not scrape " + course))
	}
	return nil
}

// watchSync polls the task and prints each state change and course as
// it happens.
func watchSync(service *syncer.Service, taskID string) (syncer.Status, error) {
	lastState := syncer.State("")
	lastCourse := ""
	for {
		status, err := service.GetStatus(taskID)
		if err != nil {
			return syncer.Status{}, err
		}

		if status.State != lastState {
			lastState = status.State
			switch status.State {
			case syncer.StateCheckingSession:
				fmt.Println(syncHeaderStyle.Render("Checking session"))
			case syncer.StateWaitingForMFA:
				fmt.Println(syncHeaderStyle.Render("Waiting for second-factor approval"))
			case syncer.StateScraping:
				fmt.Println(syncHeaderStyle.Render("Scraping courses"))
			case syncer.StateUpdatingDB:
				fmt.Println(syncHeaderStyle.Render("Saving"))
			}
		}
		if status.CurrentCourse != "" && status.CurrentCourse != lastCourse {
			lastCourse = status.CurrentCourse
			fmt.Printf("  [%d/%d] %s\n", status.CoursesDone, status.CoursesTotal, status.CurrentCourse)
		}

		if status.State == syncer.StateCompleted || status.State == syncer.StateFailed {
			return status, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
}
