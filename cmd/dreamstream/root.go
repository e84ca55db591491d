package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dreamstream",
	Short: "Stream generated images from live text",
	Long: `dreamstream sends every change of the current text to a ComfyUI-compatible
backend, paced by a leading throttle and a trailing debounce, and shows the
images the backend pushes back.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
