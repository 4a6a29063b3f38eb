package main

import "testing"

func TestRootCommandName(t *testing.T) {
	if rootCmd.Use != "coursetrack" {
		t.Fatalf("expected root command name coursetrack, got %q", rootCmd.Use)
	}
}
