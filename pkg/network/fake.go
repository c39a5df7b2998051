// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// Fake is a hand-written, command-recording test double for Client, in the
// style of the teacher's own stub-function test fields
// (internal/api/apiservice/smoketest_test.go) rather than a mocking
// framework.
type Fake struct {
	Self peer.ID

	ListProvidersFunc     func(ctx context.Context, id artifact.ID) (map[peer.ID]struct{}, error)
	GetIdlePeerFunc       func(ctx context.Context, candidates map[peer.ID]struct{}) (peer.ID, bool, error)
	RequestArtifactFunc   func(ctx context.Context, p peer.ID, id artifact.ID) ([]byte, error)
	RequestBuildFunc      func(ctx context.Context, p peer.ID, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error)
	RequestBuildStatusFunc func(ctx context.Context, p peer.ID, buildID string) (Status, error)

	ProvidedIDs []artifact.ID
	// ProvideErr, if set, is returned by every subsequent Provide call
	// without recording the id, for exercising partial-failure paths.
	ProvideErr error
}

func (f *Fake) LocalPeerID() peer.ID { return f.Self }

func (f *Fake) ListProviders(ctx context.Context, id artifact.ID) (map[peer.ID]struct{}, error) {
	if f.ListProvidersFunc != nil {
		return f.ListProvidersFunc(ctx, id)
	}
	return nil, nil
}

func (f *Fake) GetIdlePeer(ctx context.Context, candidates map[peer.ID]struct{}) (peer.ID, bool, error) {
	if f.GetIdlePeerFunc != nil {
		return f.GetIdlePeerFunc(ctx, candidates)
	}
	for p := range candidates {
		return p, true, nil
	}
	return "", false, nil
}

func (f *Fake) RequestArtifact(ctx context.Context, p peer.ID, id artifact.ID) ([]byte, error) {
	if f.RequestArtifactFunc != nil {
		return f.RequestArtifactFunc(ctx, p, id)
	}
	return nil, nil
}

func (f *Fake) Provide(ctx context.Context, id artifact.ID) error {
	if f.ProvideErr != nil {
		return f.ProvideErr
	}
	f.ProvidedIDs = append(f.ProvidedIDs, id)
	return nil
}

func (f *Fake) RequestBuild(ctx context.Context, p peer.ID, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error) {
	if f.RequestBuildFunc != nil {
		return f.RequestBuildFunc(ctx, p, pkgType, pkgSpecificID)
	}
	return "request_build_ok", nil
}

func (f *Fake) RequestBuildStatus(ctx context.Context, p peer.ID, buildID string) (Status, error) {
	if f.RequestBuildStatusFunc != nil {
		return f.RequestBuildStatusFunc(ctx, p, buildID)
	}
	return "succeeded", nil
}

var _ Client = &Fake{}
