package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GriffinCanCode/dreamstream/internal/shared/id"
	"github.com/gabriel-vasile/mimetype"
)

// ImagePrefix marks image ids.
const ImagePrefix = "img"

// Image is a displayable result. Its fields are read-only once created.
type Image struct {
	ID       string
	Data     []byte
	MIME     string
	Width    int
	Height   int
	Received time.Time
	// Location is where the image can be opened from, if anywhere
	Location string
}

// ImageStore creates and releases displayable images.
type ImageStore interface {
	Create(payload []byte, info ImageInfo) (*Image, error)
	Release(img *Image) error
}

func newImage(payload []byte, info ImageInfo) *Image {
	return &Image{
		ID:       id.Default().GenerateWithPrefix(ImagePrefix),
		Data:     payload,
		MIME:     info.MIME,
		Width:    info.Width,
		Height:   info.Height,
		Received: time.Now(),
	}
}

// MemoryStore keeps images in memory.
type MemoryStore struct {
	mu   sync.Mutex
	live map[string]struct{}
}

// NewMemoryStore creates an in-memory image store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{live: make(map[string]struct{})}
}

// Create wraps payload as an image.
func (s *MemoryStore) Create(payload []byte, info ImageInfo) (*Image, error) {
	img := newImage(payload, info)

	s.mu.Lock()
	s.live[img.ID] = struct{}{}
	s.mu.Unlock()
	return img, nil
}

// Release forgets img. Releasing twice is a no-op.
func (s *MemoryStore) Release(img *Image) error {
	if img == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.live, img.ID)
	s.mu.Unlock()
	return nil
}

// Live returns the number of unreleased images.
func (s *MemoryStore) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// FileStore writes each image to its own file and deletes it on release.
type FileStore struct {
	dir   string
	owned bool
}

// NewFileStore stores images under dir, creating it if needed. An empty dir
// means a fresh temporary directory that Close removes.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "dreamstream-")
		if err != nil {
			return nil, fmt.Errorf("create image dir: %w", err)
		}
		return &FileStore{dir: tmp, owned: true}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory images are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Create writes payload to <dir>/<id><ext>.
func (s *FileStore) Create(payload []byte, info ImageInfo) (*Image, error) {
	img := newImage(payload, info)

	ext := ".img"
	if m := mimetype.Lookup(info.MIME); m != nil && m.Extension() != "" {
		ext = m.Extension()
	}
	path := filepath.Join(s.dir, img.ID+ext)

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	img.Location = path
	return img, nil
}

// Release deletes the file behind img.
func (s *FileStore) Release(img *Image) error {
	if img == nil || img.Location == "" {
		return nil
	}
	if err := os.Remove(img.Location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// Close removes the directory if the store created it.
func (s *FileStore) Close() error {
	if !s.owned {
		return nil
	}
	return os.RemoveAll(s.dir)
}
