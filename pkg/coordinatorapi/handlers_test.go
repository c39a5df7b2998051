// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package coordinatorapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-cmp/cmp"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
	"github.com/ihcomega56/pyrsia/pkg/buildexec"
	"github.com/ihcomega56/pyrsia/pkg/coordinator"
	"github.com/ihcomega56/pyrsia/pkg/network"
	"github.com/ihcomega56/pyrsia/pkg/translog"
)

func TestRoundTripGetArtifact(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewFilesystemStore(memfs.New())
	logSvc := translog.NewMemoryService()
	svc := coordinator.New(store, logSvc, &buildexec.Fake{}, &network.Fake{Self: "local"})

	contents := []byte("hello from the coordinator")
	entry, _, err := logSvc.AddArtifact(ctx, translog.AddArtifactRequest{
		PackageType:             artifact.Docker,
		PackageSpecificID:       "alpine:3.19",
		PackageSpecificArtifact: "sha256:layer0",
		ArtifactHash:            artifact.SHA256Hex(contents),
		NumArtifacts:            1,
	})
	if err != nil {
		t.Fatalf("AddArtifact() = %v", err)
	}
	if err := store.Push(ctx, entry.ArtifactID, bytes.NewReader(contents)); err != nil {
		t.Fatalf("Push() = %v", err)
	}

	srv := httptest.NewServer(NewMux(svc))
	defer srv.Close()
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() = %v", err)
	}
	client := NewClient(http.DefaultClient, base)

	resp, err := client.GetArtifact(ctx, GetArtifactRequest{
		PackageType:             artifact.Docker,
		PackageSpecificArtifact: "sha256:layer0",
	})
	if err != nil {
		t.Fatalf("GetArtifact() = %v", err)
	}
	if diff := cmp.Diff(&ArtifactResponse{Data: contents}, resp); diff != "" {
		t.Errorf("GetArtifact() mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripGetArtifactNotFound(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewFilesystemStore(memfs.New())
	logSvc := translog.NewMemoryService()
	svc := coordinator.New(store, logSvc, &buildexec.Fake{}, &network.Fake{Self: "local"})

	srv := httptest.NewServer(NewMux(svc))
	defer srv.Close()
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() = %v", err)
	}
	client := NewClient(http.DefaultClient, base)

	if _, err := client.GetArtifact(ctx, GetArtifactRequest{
		PackageType:             artifact.Docker,
		PackageSpecificArtifact: "sha256:missing",
	}); err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestRoundTripRequestBuild(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewFilesystemStore(memfs.New())
	logSvc := translog.NewMemoryService()
	if err := logSvc.AddAuthorizedNode(ctx, "local"); err != nil {
		t.Fatalf("AddAuthorizedNode() = %v", err)
	}
	svc := coordinator.New(store, logSvc, &buildexec.Fake{}, &network.Fake{Self: "local"})

	srv := httptest.NewServer(NewMux(svc))
	defer srv.Close()
	base, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() = %v", err)
	}
	client := NewClient(http.DefaultClient, base)

	resp, err := client.RequestBuild(ctx, RequestBuildRequest{
		PackageType:       artifact.Docker,
		PackageSpecificID: "alpine:3.19",
	})
	if err != nil {
		t.Fatalf("RequestBuild() = %v", err)
	}
	if diff := cmp.Diff(&BuildIDResponse{BuildID: "build_start_ok"}, resp); diff != "" {
		t.Errorf("RequestBuild() mismatch (-want +got):\n%s", diff)
	}
}
