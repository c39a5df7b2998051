// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

// Package translog describes the transparency log collaborator: an
// append-only, authenticated record of artifact existence and provenance,
// replicated across authorized nodes. Per spec.md §1, the log's storage
// engine, wire format, and blockchain-backed commit protocol are external
// collaborators specified only by their interface to the coordinator; this
// package carries that interface plus a test-oriented in-memory
// implementation and a Firestore-backed one suitable for a real node.
package translog

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// ErrAlreadyExists indicates verify_package_can_be_added found an existing
// entry for the (type, package id) pair.
var ErrAlreadyExists = errors.New("package already logged")

// ErrNotFound indicates no entry exists for the requested coordinates.
var ErrNotFound = errors.New("transparency log entry not found")

// Entry is a TransparencyLogEntry: at most one exists per
// (PackageType, PackageSpecificArtifactID); once created it is never
// mutated.
type Entry struct {
	ArtifactID              artifact.ID
	PackageType             artifact.PackageType
	PackageSpecificID       artifact.PackageSpecificID
	PackageSpecificArtifact artifact.PackageSpecificArtifactID
	ArtifactHash            artifact.Hash
	NumArtifacts            int
}

// AddArtifactRequest is the input to add_artifact: one artifact belonging
// to a just-completed build.
type AddArtifactRequest struct {
	PackageType             artifact.PackageType
	PackageSpecificID       artifact.PackageSpecificID
	PackageSpecificArtifact artifact.PackageSpecificArtifactID
	ArtifactHash            artifact.Hash
	NumArtifacts            int
}

// Service is the contract the coordinator calls into: add, get, search,
// write_if_not_exists, get_authorized_nodes, verify_can_add, broadcast.
// Implementations are expected to internally serialize writes; the
// coordinator treats this as a single-writer endpoint (spec.md §5).
type Service interface {
	// AddArtifact commits a new entry and returns it along with the bytes
	// that should be broadcast to the wider network once all artifacts in
	// a build result have been committed.
	AddArtifact(ctx context.Context, req AddArtifactRequest) (Entry, []byte, error)
	// GetArtifact looks up the entry for (type, packageSpecificArtifactID).
	// Returns ErrNotFound if absent.
	GetArtifact(ctx context.Context, pkgType artifact.PackageType, pkgSpecificArtifactID artifact.PackageSpecificArtifactID) (Entry, error)
	// SearchTransparencyLogs returns every entry recorded for a package
	// (not just a single artifact), used by get_logs_for_artifact.
	SearchTransparencyLogs(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) ([]Entry, error)
	// VerifyPackageCanBeAdded returns ErrAlreadyExists if an entry already
	// exists for this package; this is the primary duplicate-build
	// suppression, best-effort under concurrent callers (spec.md §5).
	VerifyPackageCanBeAdded(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) error
	// GetAuthorizedNodes returns the current authorized-node set, read
	// fresh on every call (no local caching, spec.md §5).
	GetAuthorizedNodes(ctx context.Context) ([]peer.ID, error)
	// AddAuthorizedNode mutates the authorized-node set.
	AddAuthorizedNode(ctx context.Context, p peer.ID) error
	// WriteIfNotExists idempotently writes an entry received via the
	// blockchain layer's block-added event; replays are safe.
	WriteIfNotExists(ctx context.Context, e Entry) error
	// BroadcastArtifacts takes one payload per committed entry for the
	// wider network. Both implementations in this package (MemoryService,
	// FirestoreService) accept the payloads and send nothing.
	BroadcastArtifacts(ctx context.Context, payloads [][]byte) error
}
