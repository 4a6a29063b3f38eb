// Package main implements the coursetrack CLI tool.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coursetrack",
	Short: "Coursetrack - keep a local assignment tracker in sync with Learning Suite",
}
