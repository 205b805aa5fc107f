package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileCredentials reads the bearer token from a file and re-reads it whenever
// the file changes on disk. The service key is fixed.
type FileCredentials struct {
	path   string
	key    string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
}

// NewFileCredentials reads the token file once. Call Watch to follow updates.
func NewFileCredentials(path, serviceKey string, logger *slog.Logger) (*FileCredentials, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve token file: %w", err)
	}
	f := &FileCredentials{
		path:   abs,
		key:    strings.TrimSpace(serviceKey),
		logger: logger,
		now:    time.Now,
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the absolute token file path.
func (f *FileCredentials) Path() string {
	return f.path
}

// Reload re-reads the token file.
func (f *FileCredentials) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	f.mu.Lock()
	f.token = strings.TrimSpace(string(data))
	f.mu.Unlock()
	return nil
}

// Bearer returns the most recently read token.
func (f *FileCredentials) Bearer() (string, error) {
	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()
	return checkBearer(token, f.now())
}

// ServiceKey returns the admin-service key.
func (f *FileCredentials) ServiceKey() (string, error) {
	if f.key == "" {
		return "", ErrMissingCredential
	}
	return f.key, nil
}

// Watch reloads the token when the file is written, created or renamed into
// place. It watches the parent directory so editors that replace the file
// atomically are followed. Blocks until ctx is done.
func (f *FileCredentials) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("token reload failed", "path", f.path, "error", err)
				continue
			}
			f.logger.Info("token reloaded", "path", f.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("token watcher error", "error", err)
		}
	}
}
