// Package objstore browses the artefact store that holds test-suite inputs
// and generated model archives, either on local disk or in an S3 bucket.
package objstore

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"releasedesk/internal/domain"
)

// Entry is one folder or file under a listed path.
type Entry struct {
	Name         string     `json:"name"`
	Key          string     `json:"key"`
	Dir          bool       `json:"dir"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

type Browser interface {
	// List returns the folders and files directly under dir, folders first.
	List(ctx context.Context, dir string) ([]Entry, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// URL returns a time-limited download link, where the backend supports one.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ErrUnsupported is returned by URL on backends without presigned links.
var ErrUnsupported = fmt.Errorf("%w: operation not supported by this object store", domain.ErrValidation)

// cleanKey normalises a relative key and refuses to leave the root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" || key == "/" || key == "." {
		return "", nil
	}
	cleaned := path.Clean("/" + key)
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: path %q escapes the store root", domain.ErrValidation, key)
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

// sortEntries puts folders first, then orders by name.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return entries[i].Name < entries[j].Name
	})
}
