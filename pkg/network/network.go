// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

// Package network is the network client collaborator: a capability facade
// over peer-to-peer transport. Per spec.md §1/§2, the transport itself is
// out of scope for the coordinator — it calls into this facade's small set
// of operations and never reasons about peers, streams, or the DHT
// directly.
package network

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// Status is an opaque remote-build status token, passed through unchanged
// from request_build_status.
type Status string

// Client is the facade the coordinator calls into.
type Client interface {
	// LocalPeerID returns this node's own identity.
	LocalPeerID() peer.ID
	// ListProviders returns the peers currently advertising id on the DHT.
	ListProviders(ctx context.Context, id artifact.ID) (map[peer.ID]struct{}, error)
	// GetIdlePeer applies an opaque load policy (typically lowest-latency)
	// over candidates and returns its pick, or ok=false if none are
	// reachable. The coordinator never second-guesses this choice.
	GetIdlePeer(ctx context.Context, candidates map[peer.ID]struct{}) (p peer.ID, ok bool, err error)
	// RequestArtifact fetches id's bytes from p.
	RequestArtifact(ctx context.Context, p peer.ID, id artifact.ID) ([]byte, error)
	// Provide announces that this node holds id, for other peers'
	// ListProviders calls to discover.
	Provide(ctx context.Context, id artifact.ID) error
	// RequestBuild asks peer p (an authorized node) to build a package,
	// returning its build id.
	RequestBuild(ctx context.Context, p peer.ID, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error)
	// RequestBuildStatus asks peer p for a previously requested build's status.
	RequestBuildStatus(ctx context.Context, p peer.ID, buildID string) (Status, error)
}
