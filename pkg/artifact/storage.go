// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	billy "github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// ErrNotFound indicates the artifact requested to be read could not be
// found in the store.
var ErrNotFound = errors.New("artifact not found")

// Store is the content-addressed blob store contract used by the
// coordinator: push(id, reader), pull(id) -> reader, list() -> [id].
// A successful Push is write-once in spirit; overwriting an existing id is
// tolerated because the id is assigned by the hash-verified transparency
// log entry, so re-writing the same id necessarily reproduces the same
// bytes.
type Store interface {
	Push(ctx context.Context, id ID, r io.Reader) error
	Pull(ctx context.Context, id ID) (io.ReadCloser, error)
	List(ctx context.Context) ([]ID, error)
}

// FilesystemStore stores blobs as files under a root directory, named
// exactly by their artifact ID (the file stem is the id, with no
// extension). Durability is whatever the underlying filesystem provides;
// no fsync discipline is required at this layer.
type FilesystemStore struct {
	fs billy.Filesystem
}

// NewFilesystemStore creates a FilesystemStore rooted at fs.
func NewFilesystemStore(fs billy.Filesystem) *FilesystemStore {
	return &FilesystemStore{fs: fs}
}

func (s *FilesystemStore) path(id ID) string {
	return string(id)
}

// Push writes r to the blob named id, creating or truncating it.
func (s *FilesystemStore) Push(ctx context.Context, id ID, r io.Reader) error {
	f, err := s.fs.Create(s.path(id))
	if err != nil {
		return errors.Wrapf(err, "creating writer for %s", id)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return errors.Wrapf(err, "writing %s", id)
	}
	return nil
}

// Pull returns a streaming reader for the blob named id.
func (s *FilesystemStore) Pull(ctx context.Context, id ID) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.path(id))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, stderrors.Join(err, ErrNotFound)
		}
		return nil, errors.Wrapf(err, "opening %s", id)
	}
	return f, nil
}

// List returns the artifact ids present in the store; the file stem of
// every entry is round-trippable to its ID.
func (s *FilesystemStore) List(ctx context.Context) ([]ID, error) {
	infos, err := s.fs.ReadDir("/")
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing artifacts")
	}
	ids := make([]ID, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(info.Name(), filepath.Ext(info.Name()))
		ids = append(ids, ID(stem))
	}
	return ids, nil
}

var _ Store = &FilesystemStore{}

// GCSStore is a durable, bucket-backed blob store for nodes that prefer
// their local inventory live in a shared bucket rather than on local disk.
// Still single-node from the coordinator's point of view: one bucket (or
// prefix) per node.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCSStore writing objects under gs://bucket/prefix.
func NewGCSStore(client *gcs.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *GCSStore) objectName(id ID) string {
	return filepath.Join(s.prefix, string(id))
}

// Push writes r to the object named id.
func (s *GCSStore) Push(ctx context.Context, id ID, r io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "writing %s", id)
	}
	return errors.Wrapf(w.Close(), "closing writer for %s", id)
}

// Pull returns a streaming reader for the object named id.
func (s *GCSStore) Pull(ctx context.Context, id ID) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewReader(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			return nil, stderrors.Join(err, ErrNotFound)
		}
		return nil, errors.Wrapf(err, "creating GCS reader for %s", id)
	}
	return r, nil
}

// List returns the artifact ids present under the configured prefix.
func (s *GCSStore) List(ctx context.Context) ([]ID, error) {
	var ids []ID
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: s.prefix})
	for {
		obj, err := it.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, errors.Wrap(err, "listing artifacts")
		}
		rel := strings.TrimPrefix(obj.Name, s.prefix)
		rel = strings.TrimPrefix(rel, "/")
		ids = append(ids, ID(rel))
	}
	return ids, nil
}

var _ Store = &GCSStore{}

// URI returns the gs:// URI for id, for diagnostic logging.
func (s *GCSStore) URI(id ID) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.objectName(id))
}
