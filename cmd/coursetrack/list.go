package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/campushq/coursetrack/internal/ui"
	"github.com/campushq/coursetrack/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked assignments",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var (
	listStatus string
	listCourse string
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listCourse, "course", "", "Filter by course name")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	assignments, err := db.List(store.ListFilter{
		Status:     listStatus,
		CourseName: listCourse,
	})
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		fmt.Println("No assignments. Run `coursetrack sync` to fetch some.")
		return nil
	}

	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.ID)
	}
	prefixes := ui.ShortPrefixes(ids)

	now := time.Now()
	table := ui.NewTable("ID", "DUE", "STATUS", "COURSE", "TITLE")
	for _, a := range assignments {
		due := "-"
		if a.DueDate != nil {
			due = ui.FormatDueIn(*a.DueDate, now)
		}
		table.AddRow(
			ui.Highlight(a.ID, prefixes[a.ID]),
			due,
			a.Status,
			ui.Clip(a.CourseName, 40),
			ui.Clip(a.Title, 50),
		)
	}
	fmt.Print(table.String())

	if run, err := db.LastRun(); err == nil {
		fmt.Printf("\nLast synced %s.\n", ui.FormatTimeAgo(run.RanAt, now))
	}
	return nil
}
