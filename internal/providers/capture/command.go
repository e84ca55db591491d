package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// LanguageEnv names the variable carrying the recognition language.
const LanguageEnv = "CAPTURE_LANG"

// stopGrace is how long a recognizer gets to exit after SIGINT.
const stopGrace = 2 * time.Second

// CommandSource runs an external speech recognizer and reads its output
// through a pty, so line-buffered tools flush every line.
type CommandSource struct {
	command  string
	language string
	logger   *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	ptmx    *os.File
	stopped atomic.Bool
	done    chan struct{}
}

// NewCommandSource runs command through /bin/sh with CAPTURE_LANG set to language.
func NewCommandSource(command, language string, logger *zap.Logger) *CommandSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandSource{
		command:  command,
		language: language,
		logger:   logger,
	}
}

// Start launches the recognizer.
func (s *CommandSource) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return ErrAlreadyRunning
	}

	cmd := exec.Command("/bin/sh", "-c", s.command)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "TERM=dumb")
	if s.language != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", LanguageEnv, s.language))
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.stopped.Store(false)
	s.done = make(chan struct{})
	s.logger.Info("Recognizer started",
		zap.String("command", s.command),
		zap.String("language", s.language),
		zap.Int("pid", cmd.Process.Pid))

	go s.run(ctx, cmd, ptmx, h, s.done)
	return nil
}

func (s *CommandSource) run(ctx context.Context, cmd *exec.Cmd, ptmx *os.File, h Handler, done chan struct{}) {
	defer close(done)

	stopOnCancel := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stopOnCancel()

	scanErr := scanTranscripts(ptmx, &Transcript{}, h)
	// The pty reports EIO once the child has exited
	if errors.Is(scanErr, syscall.EIO) || errors.Is(scanErr, os.ErrClosed) {
		scanErr = nil
	}

	waitErr := cmd.Wait()
	ptmx.Close()

	s.mu.Lock()
	s.cmd = nil
	s.ptmx = nil
	s.mu.Unlock()

	var endErr error
	switch {
	case s.stopped.Load():
	case scanErr != nil:
		endErr = scanErr
	case waitErr != nil:
		endErr = fmt.Errorf("recognizer exited: %w", waitErr)
	}

	s.logger.Info("Recognizer ended", zap.Error(endErr))
	h.OnEnd(endErr)
}

// Stop interrupts the recognizer and waits for it to exit, delivering any
// transcript it prints on the way out. It kills the recognizer if it does
// not exit within the grace period.
func (s *CommandSource) Stop() error {
	s.mu.Lock()
	cmd, ptmx, done := s.cmd, s.ptmx, s.done
	if cmd == nil || cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped.Store(true)
	s.mu.Unlock()

	if err := interruptGroup(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("Interrupt failed, killing recognizer", zap.Error(err))
	}

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	}

	var err error
	if kerr := killGroup(cmd.Process); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
		err = fmt.Errorf("kill recognizer: %w", kerr)
	}
	// Unblocks the reader if a grandchild still holds the pty
	ptmx.Close()
	<-done
	return err
}

// Running reports whether the recognizer process is alive.
func (s *CommandSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}
