package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"releasedesk/internal/domain"
)

// Local serves a directory tree on disk.
type Local struct {
	Root string
}

func (l Local) resolve(key string) (string, string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(l.Root, filepath.FromSlash(clean)), nil
}

func (l Local) List(ctx context.Context, dir string) ([]Entry, error) {
	clean, full, err := l.resolve(dir)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("folder %s: %w", dir, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := it.Info()
		if err != nil {
			continue
		}
		key := it.Name()
		if clean != "" {
			key = clean + "/" + it.Name()
		}
		mod := info.ModTime().UTC()
		e := Entry{Name: it.Name(), Key: key, Dir: it.IsDir(), LastModified: &mod}
		if !it.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (l Local) Fetch(_ context.Context, key string) ([]byte, error) {
	_, full, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	return data, err
}

func (l Local) Put(_ context.Context, key string, data []byte) error {
	clean, full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if clean == "" {
		return fmt.Errorf("%w: object key is required", domain.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (l Local) URL(context.Context, string, time.Duration) (string, error) {
	return "", ErrUnsupported
}
