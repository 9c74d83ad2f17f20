package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const fileSuffix = ".json"

// File stores each key as its own file under root/<namespace>/.
// Individual writes are atomic (write to temp file, then rename); batches
// are not atomic across keys.
type File struct {
	root   string
	mu     sync.Mutex
	closed bool
}

var _ Store = (*File)(nil)

// OpenFile returns a file store rooted at root, creating it if needed.
func OpenFile(root string) (*File, error) {
	if root == "" {
		root = "./marksync-data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &File{root: root}, nil
}

// Root returns the directory holding the namespaces.
func (f *File) Root() string { return f.root }

func (f *File) dir(ns Namespace) string {
	return filepath.Join(f.root, url.PathEscape(string(ns)))
}

func (f *File) path(ns Namespace, key string) string {
	return filepath.Join(f.dir(ns), url.PathEscape(key)+fileSuffix)
}

func (f *File) Get(_ context.Context, ns Namespace, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	data, err := os.ReadFile(f.path(ns, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return data, nil
}

func (f *File) Set(_ context.Context, ns Namespace, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.write(ns, key, value)
}

func (f *File) write(ns Namespace, key string, value []byte) error {
	if err := os.MkdirAll(f.dir(ns), 0o755); err != nil {
		return fmt.Errorf("set %s/%s: %w", ns, key, err)
	}
	if err := atomic.WriteFile(f.path(ns, key), bytes.NewReader(value)); err != nil {
		return fmt.Errorf("set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, ns Namespace, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.remove(ns, key)
}

func (f *File) remove(ns Namespace, key string) error {
	err := os.Remove(f.path(ns, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", ns, key, err)
	}
	return nil
}

func (f *File) Clear(_ context.Context, ns Namespace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := os.RemoveAll(f.dir(ns)); err != nil {
		return fmt.Errorf("clear %s: %w", ns, err)
	}
	return nil
}

func (f *File) Keys(_ context.Context, ns Namespace) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(f.dir(ns))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", ns, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Apply writes the batch one key at a time.
func (f *File) Apply(_ context.Context, ns Namespace, b *Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if b.Resets() {
		if err := os.RemoveAll(f.dir(ns)); err != nil {
			return fmt.Errorf("apply %s: reset: %w", ns, err)
		}
	}
	for _, op := range b.Ops() {
		var err error
		if op.Delete {
			err = f.remove(ns, op.Key)
		} else {
			err = f.write(ns, op.Key, op.Value)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", ns, err)
		}
	}
	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
