// Package cli implements the plainread commands using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plainread",
	Short: "plainread — rewrite scientific papers in plain language",
	Long: `plainread fetches a bioRxiv paper, parses its structure, rewrites each
paragraph in plain language with an LLM, and serves both renditions with a
clickable glossary.

Usage:
  plainread serve
  plainread process <reference>`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
