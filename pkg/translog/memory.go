// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package translog

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

type artifactKey struct {
	typ artifact.PackageType
	art artifact.PackageSpecificArtifactID
}

type packageKey struct {
	typ artifact.PackageType
	pkg artifact.PackageSpecificID
}

// MemoryService is an in-process, mutex-serialized implementation of
// Service, used by tests and by single-node deployments with no durable
// requirement. It is the Go analogue of the Rust source's test_util
// in-memory fixtures used throughout service.rs's test module.
type MemoryService struct {
	mu        sync.Mutex
	byArtifact map[artifactKey]Entry
	byPackage  map[packageKey][]Entry
	authorized []peer.ID
}

// NewMemoryService creates an empty in-memory transparency log.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		byArtifact: make(map[artifactKey]Entry),
		byPackage:  make(map[packageKey][]Entry),
	}
}

// entryWire is the JSON form of an Entry used for broadcast payloads and
// block-added deserialization; field names are stable wire identifiers
// independent of the Go struct's field names.
type entryWire struct {
	ArtifactID              string `json:"artifact_id"`
	PackageType             string `json:"package_type"`
	PackageSpecificID       string `json:"package_specific_id"`
	PackageSpecificArtifact string `json:"package_specific_artifact_id"`
	ArtifactHash            string `json:"artifact_hash"`
	NumArtifacts            int    `json:"num_artifacts"`
}

func toWire(e Entry) entryWire {
	return entryWire{
		ArtifactID:              string(e.ArtifactID),
		PackageType:             string(e.PackageType),
		PackageSpecificID:       string(e.PackageSpecificID),
		PackageSpecificArtifact: string(e.PackageSpecificArtifact),
		ArtifactHash:            string(e.ArtifactHash),
		NumArtifacts:            e.NumArtifacts,
	}
}

func fromWire(w entryWire) Entry {
	return Entry{
		ArtifactID:              artifact.ID(w.ArtifactID),
		PackageType:             artifact.PackageType(w.PackageType),
		PackageSpecificID:       artifact.PackageSpecificID(w.PackageSpecificID),
		PackageSpecificArtifact: artifact.PackageSpecificArtifactID(w.PackageSpecificArtifact),
		ArtifactHash:            artifact.Hash(w.ArtifactHash),
		NumArtifacts:            w.NumArtifacts,
	}
}

// MarshalEntry serializes e the way AddArtifact/BroadcastArtifacts and
// HandleBlockAdded exchange entries across the wire.
func MarshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(toWire(e))
}

// UnmarshalEntry is the inverse of MarshalEntry.
func UnmarshalEntry(b []byte) (Entry, error) {
	var w entryWire
	if err := json.Unmarshal(b, &w); err != nil {
		return Entry{}, errors.Wrap(err, "unmarshaling transparency log entry")
	}
	return fromWire(w), nil
}

// AddArtifact commits a new entry, assigning it a fresh ArtifactID.
func (s *MemoryService) AddArtifact(ctx context.Context, req AddArtifactRequest) (Entry, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak := artifactKey{typ: req.PackageType, art: req.PackageSpecificArtifact}
	if _, exists := s.byArtifact[ak]; exists {
		return Entry{}, nil, errors.Wrapf(ErrAlreadyExists, "artifact %s/%s", req.PackageType, req.PackageSpecificArtifact)
	}
	entry := Entry{
		ArtifactID:              artifact.ID(uuid.New().String()),
		PackageType:             req.PackageType,
		PackageSpecificID:       req.PackageSpecificID,
		PackageSpecificArtifact: req.PackageSpecificArtifact,
		ArtifactHash:            req.ArtifactHash,
		NumArtifacts:            req.NumArtifacts,
	}
	s.byArtifact[ak] = entry
	pk := packageKey{typ: req.PackageType, pkg: req.PackageSpecificID}
	s.byPackage[pk] = append(s.byPackage[pk], entry)
	payload, err := MarshalEntry(entry)
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, payload, nil
}

// GetArtifact returns the entry for (pkgType, pkgSpecificArtifactID).
func (s *MemoryService) GetArtifact(ctx context.Context, pkgType artifact.PackageType, pkgSpecificArtifactID artifact.PackageSpecificArtifactID) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byArtifact[artifactKey{typ: pkgType, art: pkgSpecificArtifactID}]
	if !ok {
		return Entry{}, errors.Wrapf(ErrNotFound, "%s/%s", pkgType, pkgSpecificArtifactID)
	}
	return e, nil
}

// SearchTransparencyLogs returns every entry recorded for a package.
func (s *MemoryService) SearchTransparencyLogs(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.byPackage[packageKey{typ: pkgType, pkg: pkgSpecificID}]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// VerifyPackageCanBeAdded returns ErrAlreadyExists if any entry already
// exists for this package.
func (s *MemoryService) VerifyPackageCanBeAdded(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries := s.byPackage[packageKey{typ: pkgType, pkg: pkgSpecificID}]; len(entries) > 0 {
		return errors.Wrapf(ErrAlreadyExists, "%s/%s", pkgType, pkgSpecificID)
	}
	return nil
}

// GetAuthorizedNodes returns the current authorized-node set.
func (s *MemoryService) GetAuthorizedNodes(ctx context.Context) ([]peer.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.ID, len(s.authorized))
	copy(out, s.authorized)
	return out, nil
}

// AddAuthorizedNode appends p to the authorized-node set if not already present.
func (s *MemoryService) AddAuthorizedNode(ctx context.Context, p peer.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.authorized {
		if existing == p {
			return nil
		}
	}
	s.authorized = append(s.authorized, p)
	return nil
}

// WriteIfNotExists idempotently writes e.
func (s *MemoryService) WriteIfNotExists(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak := artifactKey{typ: e.PackageType, art: e.PackageSpecificArtifact}
	if _, exists := s.byArtifact[ak]; exists {
		return nil
	}
	s.byArtifact[ak] = e
	pk := packageKey{typ: e.PackageType, pkg: e.PackageSpecificID}
	s.byPackage[pk] = append(s.byPackage[pk], e)
	return nil
}

// BroadcastArtifacts is a no-op: the payloads are accepted and nothing is
// sent over the p2p network.
func (s *MemoryService) BroadcastArtifacts(ctx context.Context, payloads [][]byte) error {
	return nil
}

var _ Service = &MemoryService{}
