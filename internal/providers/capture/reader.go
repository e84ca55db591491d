package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// ReaderSource reads transcript lines from an io.Reader, or from a file
// opened afresh on every Start.
type ReaderSource struct {
	open func() (io.Reader, error)

	mu      sync.Mutex
	running bool
	current io.Reader
	stopped atomic.Bool
	done    chan struct{}
}

// NewReaderSource creates a source over r. If r is an io.Closer, Stop
// closes it to unblock a pending read.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{open: func() (io.Reader, error) { return r, nil }}
}

// NewFileSource creates a source that reads the file at path on every
// Start. A named pipe lets another process feed transcript lines.
func NewFileSource(path string) *ReaderSource {
	return &ReaderSource{open: func() (io.Reader, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript file: %w", err)
		}
		return f, nil
	}}
}

// Start begins reading. Each run starts with an empty transcript. The
// input is opened on the run's goroutine, so a pipe without a writer
// does not block the caller.
func (s *ReaderSource) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.current = nil
	s.stopped.Store(false)
	s.done = make(chan struct{})

	go s.run(ctx, h, s.done)
	return nil
}

func (s *ReaderSource) run(ctx context.Context, h Handler, done chan struct{}) {
	defer close(done)

	stopOnCancel := context.AfterFunc(ctx, func() { _ = s.Stop() })
	defer stopOnCancel()

	err := s.read(h)

	s.mu.Lock()
	s.running = false
	s.current = nil
	s.mu.Unlock()

	if s.stopped.Load() {
		err = nil
	}
	h.OnEnd(err)
}

func (s *ReaderSource) read(h Handler) error {
	r, err := s.open()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = r
	stopped := s.stopped.Load()
	s.mu.Unlock()
	if stopped {
		closeReader(r)
		return nil
	}

	err = scanTranscripts(r, &Transcript{}, h)
	if _, ok := r.(*os.File); ok {
		closeReader(r)
	}
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// Stop ends the current run by closing its input. Lines already read are
// still delivered.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopped.Store(true)
	r := s.current
	s.mu.Unlock()

	if r == nil {
		return nil
	}
	if c, ok := r.(io.Closer); ok {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	return nil
}

// Done is closed when the current run has ended.
func (s *ReaderSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func closeReader(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
