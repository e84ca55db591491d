package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GriffinCanCode/dreamstream/internal/domain/session"
	"github.com/GriffinCanCode/dreamstream/internal/infrastructure/config"
	"github.com/GriffinCanCode/dreamstream/internal/server"
	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Interactive commands read from stdin.
const (
	cmdRecord = "/rec"
	cmdQuit   = "/quit"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive session",
	Long:  `Reads the current text from stdin, one full replacement per line, and submits it to the backend.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd.Flags(), cfg); err != nil {
			return err
		}

		var opts []server.Option
		if raw, _ := cmd.Flags().GetString("client-id"); raw != "" {
			clientID, err := id.ParseClientID(raw)
			if err != nil {
				return err
			}
			opts = append(opts, server.WithClientID(clientID))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runSession(ctx, cfg, os.Stdin, cmd.OutOrStdout(), opts...)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	registerRunFlags(runCmd.Flags())

	// Make 'run' the default if no command is provided
	rootCmd.RunE = runCmd.RunE
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
}

func registerRunFlags(f *pflag.FlagSet) {
	f.String("comfy-http", "", "Prompt endpoint base URL (COMFY_HTTP)")
	f.String("comfy-ws", "", "Result stream base URL (COMFY_WS)")
	f.String("workflow", "", "Workflow template file (WORKFLOW_PATH)")
	f.Duration("throttle", 0, "Leading throttle interval (THROTTLE_DELAY)")
	f.Duration("debounce", 0, "Trailing debounce delay (DEBOUNCE_DELAY)")
	f.String("capture-cmd", "", "Speech recognizer command (CAPTURE_CMD)")
	f.String("capture-file", "", "Transcript file or named pipe read on each /rec (CAPTURE_FILE)")
	f.String("lang", "", "Speech recognition language (CAPTURE_LANG)")
	f.String("image-dir", "", "Directory for received images (IMAGE_DIR)")
	f.String("preview-addr", "", "Preview server address (PREVIEW_ADDR)")
	f.Bool("no-preview", false, "Disable the preview server")
	f.String("client-id", "", "Fixed client id (UUID)")
	f.String("log-level", "", "Log level (LOG_LEVEL)")
	f.Bool("dev", false, "Development logging (LOG_DEV)")
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(f *pflag.FlagSet, cfg *config.Config) error {
	var err error
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}

	str("comfy-http", &cfg.Comfy.HTTPBase)
	str("comfy-ws", &cfg.Comfy.WSBase)
	str("workflow", &cfg.Input.WorkflowPath)
	str("capture-cmd", &cfg.Capture.Command)
	str("capture-file", &cfg.Capture.File)
	str("lang", &cfg.Capture.Language)
	str("image-dir", &cfg.Output.ImageDir)
	str("preview-addr", &cfg.Preview.Addr)
	str("log-level", &cfg.Logging.Level)

	if f.Changed("throttle") {
		cfg.Input.ThrottleDelay, err = f.GetDuration("throttle")
		if err != nil {
			return err
		}
	}
	if f.Changed("debounce") {
		cfg.Input.DebounceDelay, err = f.GetDuration("debounce")
		if err != nil {
			return err
		}
	}
	if f.Changed("no-preview") {
		noPreview, _ := f.GetBool("no-preview")
		cfg.Preview.Enabled = !noPreview
	}
	if f.Changed("dev") {
		cfg.Logging.Development, _ = f.GetBool("dev")
	}
	return cfg.Validate()
}

func runSession(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, opts ...server.Option) error {
	srv, err := server.NewServer(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			srv.Logger().Warn("Shutdown finished with errors", zap.Error(err))
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	if addr := srv.Addr(); addr != "" {
		fmt.Fprintf(out, "Preview at http://%s/image\n", addr)
	}
	fmt.Fprintf(out, "Type a prompt and press enter. %s toggles speech, %s exits.\n", cmdRecord, cmdQuit)

	lines := make(chan string)
	var readErr <-chan error
	readDone := make(chan error, 1)
	readErr = readDone
	go func() {
		readDone <- readLines(ctx, in, lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-srv.Errors():
			return err
		case err := <-readErr:
			if err != nil {
				return err
			}
			// Input ended; keep showing results until interrupted
			readErr = nil
			fmt.Fprintln(out, "Input closed. Press Ctrl-C to exit.")
		case line := <-lines:
			quit, err := interpret(srv.Session(), line, out)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// readLines forwards every line of r until it ends. EOF is a normal end.
func readLines(ctx context.Context, r io.Reader, lines chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// Controller is the part of a session the prompt drives.
type Controller interface {
	HandleInput(text string) error
	ToggleCapture() (bool, error)
}

// interpret applies one stdin line and reports whether the user asked to quit.
func interpret(c Controller, line string, out io.Writer) (bool, error) {
	switch strings.TrimSpace(line) {
	case cmdQuit:
		return true, nil
	case cmdRecord:
		recording, err := c.ToggleCapture()
		switch {
		case errors.Is(err, session.ErrNoCaptureSource):
			fmt.Fprintln(out, "No speech recognizer configured (set CAPTURE_CMD, --capture-cmd or --capture-file).")
			return false, nil
		case err != nil:
			fmt.Fprintf(out, "Capture failed: %v\n", err)
			return false, nil
		case recording:
			fmt.Fprintln(out, "Recording.")
		default:
			fmt.Fprintln(out, "Stopped recording.")
		}
		return false, nil
	}

	if err := c.HandleInput(strings.TrimRight(line, "\r")); err != nil {
		return false, err
	}
	return false, nil
}
