// Package store implements the Store collaborator: the thin bookkeeper
// that holds a Store's aggregate quota and mints buckets under it. A
// Bucket only relies on a small contract — available_space, usage_space,
// store_path, update_space — and this package gives that contract a
// concrete, minimal implementation so the module is runnable end-to-end.
package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"dario.cat/mergo"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/omalloc/depot/contrib/log"
	pkgerrors "github.com/omalloc/depot/pkg/errors"
	"github.com/omalloc/depot/storage/bucket"
)

// Descriptor is the storage.json document.
type Descriptor struct {
	UUID           string `json:"uuid"`
	StorePath      string `json:"store_path"`
	StoreName      string `json:"store_name"`
	AvailableSpace uint64 `json:"available_space"`
	UsageSpace     uint64 `json:"usage_space"`
	Logging        bool   `json:"logging"`
}

// defaultDescriptor fills any zero-valued field left unset by an older or
// hand-edited storage.json.
var defaultDescriptor = Descriptor{Logging: true}

const descriptorFile = "storage.json"

// Store is the aggregate quota container for a set of buckets.
type Store struct {
	mu   sync.Mutex
	desc Descriptor
	log  *log.Helper
}

// New creates a fresh Store at storePath with the given name and quota.
// Keeping available_space within the host's actual disk capacity is the
// caller's responsibility; disk-capacity probing lives in storage/space.
func New(ctx context.Context, storePath, storeName string, availableSpace uint64) (*Store, error) {
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return nil, pkgerrors.IO(err)
	}
	s := &Store{
		desc: Descriptor{
			UUID:           uuid.NewString(),
			StorePath:      storePath,
			StoreName:      storeName,
			AvailableSpace: availableSpace,
			UsageSpace:     0,
			Logging:        true,
		},
		log: log.NewHelper(log.GetLogger()),
	}
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open reads an existing storage.json from storePath.
func Open(ctx context.Context, storePath string) (*Store, error) {
	buf, err := os.ReadFile(filepath.Join(storePath, descriptorFile))
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	var desc Descriptor
	if err := json.Unmarshal(buf, &desc); err != nil {
		return nil, pkgerrors.IO(err)
	}
	if err := mergo.Merge(&desc, defaultDescriptor); err != nil {
		return nil, pkgerrors.IO(err)
	}
	desc.StorePath = storePath
	return &Store{desc: desc, log: log.NewHelper(log.GetLogger())}, nil
}

// persist writes storage.json atomically: write to a temp file, then
// rename over the original, so a crash mid-write never corrupts the
// descriptor.
func (s *Store) persist() error {
	buf, err := json.Marshal(s.desc)
	if err != nil {
		return pkgerrors.IO(err)
	}
	path := filepath.Join(s.desc.StorePath, descriptorFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return pkgerrors.IO(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// Descriptor returns a snapshot of the Store's current state.
func (s *Store) Descriptor() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// CreateBucket mints a new bucket with bucketSpace reserved out of the
// Store's quota: the sum of every bucket's available_space must never
// exceed the Store's own available_space.
func (s *Store) CreateBucket(ctx context.Context, bucketSpace uint64) (*bucket.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desc.UsageSpace+bucketSpace > s.desc.AvailableSpace {
		return nil, pkgerrors.ErrStorageFull.WithMessage(
			"store quota exceeded: usage=%d requested=%d available=%d",
			s.desc.UsageSpace, bucketSpace, s.desc.AvailableSpace)
	}

	id := uuid.NewString()
	b, err := bucket.Create(ctx, s.desc.StorePath, id, bucketSpace)
	if err != nil {
		return nil, err
	}

	s.desc.UsageSpace += bucketSpace
	if err := s.persist(); err != nil {
		return nil, err
	}
	s.log.Infof("store %s: created bucket %s (space=%d)", s.desc.UUID, id, bucketSpace)
	return b, nil
}

// OpenBucket returns a handle to an existing bucket.
func (s *Store) OpenBucket(ctx context.Context, uuid string) (*bucket.Bucket, error) {
	return bucket.Open(ctx, s.desc.StorePath, uuid)
}
