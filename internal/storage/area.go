package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/radstore/internal/fault"
)

// Area is where attachment bytes live, addressed by uuid.
type Area interface {
	Create(uuid string, content []byte, contentType ContentType) error
	Read(uuid string, contentType ContentType) ([]byte, error)
	Remove(uuid string, contentType ContentType) error
}

// FilesystemArea keeps each attachment in its own file below root, fanned
// out as <root>/<uuid[0:2]>/<uuid[2:4]>/<uuid>.
type FilesystemArea struct {
	root string
}

// NewFilesystemArea creates root if needed.
func NewFilesystemArea(root string) (*FilesystemArea, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FilesystemArea{root: root}, nil
}

// Root returns the storage directory.
func (a *FilesystemArea) Root() string { return a.root }

func (a *FilesystemArea) path(uuid string) (string, error) {
	if len(uuid) < 4 || filepath.Base(uuid) != uuid {
		return "", fault.New(fault.CodeParameterOutOfRange, "bad attachment uuid %q", uuid)
	}
	return filepath.Join(a.root, uuid[0:2], uuid[2:4], uuid), nil
}

// Create writes content atomically through a temp file.
func (a *FilesystemArea) Create(uuid string, content []byte, _ ContentType) error {
	p, err := a.path(uuid)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create attachment dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write attachment %s: %w", uuid, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close attachment %s: %w", uuid, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit attachment %s: %w", uuid, err)
	}
	return nil
}

func (a *FilesystemArea) Read(uuid string, _ ContentType) ([]byte, error) {
	p, err := a.path(uuid)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fault.New(fault.CodeNotFound, "attachment %s not in storage", uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", uuid, err)
	}
	return data, nil
}

// Remove deletes the file and prunes empty fan-out directories. Removing a
// missing attachment is not an error.
func (a *FilesystemArea) Remove(uuid string, _ ContentType) error {
	p, err := a.path(uuid)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove attachment %s: %w", uuid, err)
	}
	// Best effort: non-empty directories refuse removal.
	dir := filepath.Dir(p)
	_ = os.Remove(dir)
	_ = os.Remove(filepath.Dir(dir))
	return nil
}

// MemoryArea is an in-process Area, for tests and dry runs.
type MemoryArea struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemoryArea() *MemoryArea {
	return &MemoryArea{files: make(map[string][]byte)}
}

func (a *MemoryArea) Create(uuid string, content []byte, _ ContentType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[uuid] = append([]byte(nil), content...)
	return nil
}

func (a *MemoryArea) Read(uuid string, _ ContentType) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[uuid]
	if !ok {
		return nil, fault.New(fault.CodeNotFound, "attachment %s not in storage", uuid)
	}
	return append([]byte(nil), data...), nil
}

func (a *MemoryArea) Remove(uuid string, _ ContentType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, uuid)
	return nil
}

// Len returns the number of stored attachments.
func (a *MemoryArea) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}
