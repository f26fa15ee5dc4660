package reliability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// LocalStore keeps backup archives in a directory. It is used when no
// bucket is configured.
type LocalStore struct {
	dir string
}

// Compile-time check that LocalStore implements ObjectStore
var _ ObjectStore = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Upload writes body to dir/key atomically
func (s *LocalStore) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid backup key %q", key)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", key, err)
	}

	return os.Rename(tmp.Name(), filepath.Join(s.dir, key))
}

// List returns archives whose name starts with prefix, sorted by name
func (s *LocalStore) List(_ context.Context, prefix string) ([]types.Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var objects []types.Object
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		objects = append(objects, types.Object{
			Key:          aws.String(entry.Name()),
			Size:         aws.Int64(info.Size()),
			LastModified: aws.Time(info.ModTime()),
		})
	}

	sort.Slice(objects, func(i, j int) bool { return *objects[i].Key < *objects[j].Key })
	return objects, nil
}

// Delete removes dir/key
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
