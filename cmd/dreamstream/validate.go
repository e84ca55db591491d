package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/GriffinCanCode/dreamstream/internal/domain/workflow"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

const defaultTemplateGlob = "**/*.{json,yaml,yml,toml}"

var validateCmd = &cobra.Command{
	Use:   "validate [glob...]",
	Short: "Check workflow template files",
	Long: `Loads every file matching the given globs (default "` + defaultTemplateGlob + `")
and reports whether it is a valid workflow and whether it carries a positive text node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), args)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// errInvalidTemplates is returned when at least one matched file fails.
var errInvalidTemplates = errors.New("invalid workflow templates found")

func runValidate(out io.Writer, patterns []string) error {
	if len(patterns) == 0 {
		patterns = []string{defaultTemplateGlob}
	}

	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) == 0 {
		return fmt.Errorf("no files match %v", patterns)
	}

	failed := 0
	for _, path := range files {
		tmpl, err := workflow.Load(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", filepath.ToSlash(path), err)
			continue
		}

		if text, ok := tmpl.GuidanceText(); ok {
			fmt.Fprintf(out, "ok   %s (%d nodes, text %q)\n", filepath.ToSlash(path), tmpl.Len(), text)
		} else {
			fmt.Fprintf(out, "ok   %s (%d nodes, no positive text node)\n", filepath.ToSlash(path), tmpl.Len())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidTemplates, failed, len(files))
	}
	return nil
}
