// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
	"github.com/ihcomega56/pyrsia/pkg/buildexec"
	"github.com/ihcomega56/pyrsia/pkg/network"
	"github.com/ihcomega56/pyrsia/pkg/translog"
)

const localPeer = peer.ID("local-node")

func newTestService() (Service, *artifact.FilesystemStore, *translog.MemoryService, *network.Fake) {
	store := artifact.NewFilesystemStore(memfs.New())
	logSvc := translog.NewMemoryService()
	build := &buildexec.Fake{}
	p2p := &network.Fake{Self: localPeer}
	return New(store, logSvc, build, p2p), store, logSvc, p2p
}

func pushLogged(ctx context.Context, t *testing.T, s Service, logSvc *translog.MemoryService, store *artifact.FilesystemStore, pkgType artifact.PackageType, pkgID artifact.PackageSpecificID, artID artifact.PackageSpecificArtifactID, contents []byte) translog.Entry {
	t.Helper()
	entry, _, err := logSvc.AddArtifact(ctx, translog.AddArtifactRequest{
		PackageType:             pkgType,
		PackageSpecificID:       pkgID,
		PackageSpecificArtifact: artID,
		ArtifactHash:            artifact.SHA256Hex(contents),
		NumArtifacts:            1,
	})
	if err != nil {
		t.Fatalf("AddArtifact() = %v", err)
	}
	if err := store.Push(ctx, entry.ArtifactID, bytes.NewReader(contents)); err != nil {
		t.Fatalf("Push() = %v", err)
	}
	return entry
}

func TestGetArtifactLocalHit(t *testing.T) {
	ctx := context.Background()
	s, store, logSvc, _ := newTestService()
	contents := []byte("hello world")
	pushLogged(ctx, t, s, logSvc, store, artifact.Docker, "alpine:3.19", "sha256:layer0", contents)

	got, err := s.GetArtifact(ctx, artifact.Docker, "sha256:layer0")
	if err != nil {
		t.Fatalf("GetArtifact() = %v", err)
	}
	if !bytes.Equal(got, contents) {
		t.Errorf("GetArtifact() = %q, want %q", got, contents)
	}
}

func TestGetArtifactNotFound(t *testing.T) {
	s, _, _, _ := newTestService()
	_, err := s.GetArtifact(context.Background(), artifact.Docker, "sha256:missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var notFoundErr *NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Errorf("GetArtifact() error = %v, want *NotFoundError", err)
	}
}

func TestGetArtifactInvalidHash(t *testing.T) {
	ctx := context.Background()
	s, store, logSvc, _ := newTestService()
	entry, _, err := logSvc.AddArtifact(ctx, translog.AddArtifactRequest{
		PackageType:             artifact.Docker,
		PackageSpecificID:       "alpine:3.19",
		PackageSpecificArtifact: "sha256:layer0",
		ArtifactHash:            artifact.Hash("0000000000000000000000000000000000000000000000000000000000000a"),
		NumArtifacts:            1,
	})
	if err != nil {
		t.Fatalf("AddArtifact() = %v", err)
	}
	if err := store.Push(ctx, entry.ArtifactID, bytes.NewReader([]byte("corrupted"))); err != nil {
		t.Fatalf("Push() = %v", err)
	}

	_, err = s.GetArtifact(ctx, artifact.Docker, "sha256:layer0")
	if err == nil {
		t.Fatal("expected error")
	}
	var hashErr *InvalidHashError
	if !errors.As(err, &hashErr) {
		t.Errorf("GetArtifact() error = %v, want *InvalidHashError", err)
	}
}

func TestGetArtifactFromPeers(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, p2p := newTestService()
	contents := []byte("remote bytes")
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
	remote := peer.ID("remote-node")
	p2p.ListProvidersFunc = func(ctx context.Context, id artifact.ID) (map[peer.ID]struct{}, error) {
		return map[peer.ID]struct{}{remote: {}}, nil
	}
	p2p.RequestArtifactFunc = func(ctx context.Context, p peer.ID, id artifact.ID) ([]byte, error) {
		if p != remote || id != entry.ArtifactID {
			t.Errorf("RequestArtifact(%v, %v), want (%v, %v)", p, id, remote, entry.ArtifactID)
		}
		return contents, nil
	}

	got, err := s.GetArtifact(ctx, artifact.Docker, "sha256:layer0")
	if err != nil {
		t.Fatalf("GetArtifact() = %v", err)
	}
	if !bytes.Equal(got, contents) {
		t.Errorf("GetArtifact() = %q, want %q", got, contents)
	}
}

func TestGetArtifactNotAvailableOnNetwork(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, p2p := newTestService()
	_, _, err := logSvc.AddArtifact(ctx, translog.AddArtifactRequest{
		PackageType:             artifact.Docker,
		PackageSpecificID:       "alpine:3.19",
		PackageSpecificArtifact: "sha256:layer0",
		ArtifactHash:            "deadbeef",
		NumArtifacts:            1,
	})
	if err != nil {
		t.Fatalf("AddArtifact() = %v", err)
	}
	p2p.GetIdlePeerFunc = func(ctx context.Context, candidates map[peer.ID]struct{}) (peer.ID, bool, error) {
		return "", false, nil
	}

	_, err = s.GetArtifact(ctx, artifact.Docker, "sha256:layer0")
	var unavailable *NotAvailableOnNetworkError
	if !errors.As(err, &unavailable) {
		t.Errorf("GetArtifact() error = %v, want *NotAvailableOnNetworkError", err)
	}
}

func TestGetArtifactOrBuildTriggersSpeculativeBuild(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, p2p := newTestService()
	started := make(chan artifact.PackageSpecificID, 1)
	p2p.RequestBuildFunc = func(ctx context.Context, p peer.ID, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error) {
		started <- pkgSpecificID
		return "build-1", nil
	}
	if err := logSvc.AddAuthorizedNode(ctx, peer.ID("remote-node")); err != nil {
		t.Fatalf("AddAuthorizedNode() = %v", err)
	}

	_, err := s.GetArtifactOrBuild(ctx, artifact.Docker, "alpine:3.19", "sha256:missing")
	if err == nil {
		t.Fatal("expected the original not-found error to be returned")
	}
	var notFoundErr *NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Errorf("GetArtifactOrBuild() error = %v, want *NotFoundError", err)
	}
	select {
	case got := <-started:
		if got != "alpine:3.19" {
			t.Errorf("speculative build started for %q, want %q", got, "alpine:3.19")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("speculative build was never dispatched")
	}
}

func TestRequestBuildLocal(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, _ := newTestService()
	if err := logSvc.AddAuthorizedNode(ctx, localPeer); err != nil {
		t.Fatalf("AddAuthorizedNode() = %v", err)
	}
	buildID, err := s.RequestBuild(ctx, artifact.Docker, "alpine:3.19")
	if err != nil {
		t.Fatalf("RequestBuild() = %v", err)
	}
	if buildID != "build_start_ok" {
		t.Errorf("RequestBuild() = %q, want %q", buildID, "build_start_ok")
	}
}

func TestRequestBuildRemote(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, _ := newTestService()
	remote := peer.ID("remote-node")
	if err := logSvc.AddAuthorizedNode(ctx, remote); err != nil {
		t.Fatalf("AddAuthorizedNode() = %v", err)
	}
	buildID, err := s.RequestBuild(ctx, artifact.Docker, "alpine:3.19")
	if err != nil {
		t.Fatalf("RequestBuild() = %v", err)
	}
	if buildID != "request_build_ok" {
		t.Errorf("RequestBuild() = %q, want %q", buildID, "request_build_ok")
	}
}

func TestRequestBuildNoAuthorizedNodes(t *testing.T) {
	s, _, _, _ := newTestService()
	_, err := s.RequestBuild(context.Background(), artifact.Docker, "alpine:3.19")
	var initErr *InitializationFailedError
	if !errors.As(err, &initErr) {
		t.Errorf("RequestBuild() error = %v, want *InitializationFailedError", err)
	}
}

func TestRequestBuildDuplicateSuppressed(t *testing.T) {
	ctx := context.Background()
	s, store, logSvc, _ := newTestService()
	if err := logSvc.AddAuthorizedNode(ctx, localPeer); err != nil {
		t.Fatalf("AddAuthorizedNode() = %v", err)
	}
	pushLogged(ctx, t, s, logSvc, store, artifact.Docker, "alpine:3.19", "sha256:layer0", []byte("x"))

	_, err := s.RequestBuild(ctx, artifact.Docker, "alpine:3.19")
	var existsErr *ArtifactAlreadyExistsError
	if !errors.As(err, &existsErr) {
		t.Errorf("RequestBuild() error = %v, want *ArtifactAlreadyExistsError", err)
	}
}

func TestGetBuildStatusLocal(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, _ := newTestService()
	if err := logSvc.AddAuthorizedNode(ctx, localPeer); err != nil {
		t.Fatalf("AddAuthorizedNode() = %v", err)
	}
	status, err := s.GetBuildStatus(ctx, "build-1")
	if err != nil {
		t.Fatalf("GetBuildStatus() = %v", err)
	}
	if status != "succeeded" {
		t.Errorf("GetBuildStatus() = %q, want %q", status, "succeeded")
	}
}

func TestHandleBuildResult(t *testing.T) {
	ctx := context.Background()
	s, store, logSvc, p2p := newTestService()

	dir := t.TempDir()
	artPath := dir + "/layer0.tar"
	contents := []byte("layer bytes")
	if err := os.WriteFile(artPath, contents, 0o600); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}

	result := buildexec.BuildResult{
		PackageType:       artifact.Docker,
		PackageSpecificID: "alpine:3.19",
		Artifacts: []buildexec.BuiltArtifact{
			{
				ArtifactSpecificID: "sha256:layer0",
				ArtifactHash:       artifact.SHA256Hex(contents),
				ArtifactLocation:   artPath,
			},
		},
	}

	if err := s.HandleBuildResult(ctx, "build-1", result, FileOpener); err != nil {
		t.Fatalf("HandleBuildResult() = %v", err)
	}

	entry, err := logSvc.GetArtifact(ctx, artifact.Docker, "sha256:layer0")
	if err != nil {
		t.Fatalf("GetArtifact() after HandleBuildResult = %v", err)
	}
	r, err := store.Pull(ctx, entry.ArtifactID)
	if err != nil {
		t.Fatalf("Pull() = %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() = %v", err)
	}
	if !bytes.Equal(got, contents) {
		t.Errorf("stored artifact = %q, want %q", got, contents)
	}
	if diff := cmp.Diff([]artifact.ID{entry.ArtifactID}, p2p.ProvidedIDs); diff != "" {
		t.Errorf("ProvidedIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleBlockAddedSingleEntry(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, _ := newTestService()
	entry := translog.Entry{
		ArtifactID:              "art-1",
		PackageType:             artifact.Docker,
		PackageSpecificID:       "alpine:3.19",
		PackageSpecificArtifact: "sha256:layer0",
		ArtifactHash:            "deadbeef",
		NumArtifacts:            1,
	}
	payload, err := translog.MarshalEntry(entry)
	if err != nil {
		t.Fatalf("MarshalEntry() = %v", err)
	}

	if err := s.HandleBlockAdded(ctx, [][]byte{payload}); err != nil {
		t.Fatalf("HandleBlockAdded() = %v", err)
	}
	got, err := logSvc.GetArtifact(ctx, artifact.Docker, "sha256:layer0")
	if err != nil {
		t.Fatalf("GetArtifact() after HandleBlockAdded = %v", err)
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Errorf("GetArtifact() after HandleBlockAdded mismatch (-want +got):\n%s", diff)
	}
}

// TestHandleBlockAddedIdempotent exercises spec.md §8's idempotency
// invariant: replaying the same single-entry payload leaves the log state
// unchanged on the second application.
func TestHandleBlockAddedIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, _ := newTestService()
	entry := translog.Entry{
		ArtifactID:              "art-1",
		PackageType:             artifact.Docker,
		PackageSpecificID:       "alpine:3.19",
		PackageSpecificArtifact: "sha256:layer0",
		ArtifactHash:            "deadbeef",
		NumArtifacts:            1,
	}
	payload, err := translog.MarshalEntry(entry)
	if err != nil {
		t.Fatalf("MarshalEntry() = %v", err)
	}

	if err := s.HandleBlockAdded(ctx, [][]byte{payload}); err != nil {
		t.Fatalf("HandleBlockAdded() first application = %v", err)
	}
	before, err := logSvc.SearchTransparencyLogs(ctx, artifact.Docker, "alpine:3.19")
	if err != nil {
		t.Fatalf("SearchTransparencyLogs() after first application = %v", err)
	}

	if err := s.HandleBlockAdded(ctx, [][]byte{payload}); err != nil {
		t.Fatalf("HandleBlockAdded() second application = %v", err)
	}
	after, err := logSvc.SearchTransparencyLogs(ctx, artifact.Docker, "alpine:3.19")
	if err != nil {
		t.Fatalf("SearchTransparencyLogs() after second application = %v", err)
	}

	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("log state changed on replay (-before +after):\n%s", diff)
	}
}

func TestHandleBlockAddedIgnoresMultiPayload(t *testing.T) {
	ctx := context.Background()
	s, _, logSvc, _ := newTestService()
	entry := translog.Entry{
		PackageType:             artifact.Docker,
		PackageSpecificID:       "alpine:3.19",
		PackageSpecificArtifact: "sha256:layer0",
		ArtifactHash:            "deadbeef",
	}
	payload, err := translog.MarshalEntry(entry)
	if err != nil {
		t.Fatalf("MarshalEntry() = %v", err)
	}

	if err := s.HandleBlockAdded(ctx, [][]byte{payload, payload}); err != nil {
		t.Fatalf("HandleBlockAdded() = %v", err)
	}
	if _, err := logSvc.GetArtifact(ctx, artifact.Docker, "sha256:layer0"); err == nil {
		t.Error("multi-payload block should not have been applied")
	}
}

func TestHandleBlockAddedIgnoresEmptyPayload(t *testing.T) {
	s, _, logSvc, _ := newTestService()
	if err := s.HandleBlockAdded(context.Background(), nil); err != nil {
		t.Fatalf("HandleBlockAdded() = %v", err)
	}
	if _, err := logSvc.SearchTransparencyLogs(context.Background(), artifact.Docker, "alpine:3.19"); err != nil {
		t.Fatalf("SearchTransparencyLogs() = %v", err)
	}
}

func TestProvideLocalArtifacts(t *testing.T) {
	ctx := context.Background()
	s, store, _, p2p := newTestService()
	if err := store.Push(ctx, artifact.ID("art-1"), bytes.NewReader([]byte("a"))); err != nil {
		t.Fatalf("Push() = %v", err)
	}
	if err := store.Push(ctx, artifact.ID("art-2"), bytes.NewReader([]byte("b"))); err != nil {
		t.Fatalf("Push() = %v", err)
	}

	if err := s.ProvideLocalArtifacts(ctx); err != nil {
		t.Fatalf("ProvideLocalArtifacts() = %v", err)
	}
	want := []artifact.ID{"art-1", "art-2"}
	if diff := cmp.Diff(want, p2p.ProvidedIDs, cmpopts.SortSlices(func(a, b artifact.ID) bool { return a < b })); diff != "" {
		t.Errorf("ProvidedIDs mismatch (-want +got):\n%s", diff)
	}
}

// countingProvider counts every Provide call made through it, including
// the ones the wrapped Fake fails.
type countingProvider struct {
	*network.Fake
	calls int
}

func (c *countingProvider) Provide(ctx context.Context, id artifact.ID) error {
	c.calls++
	return c.Fake.Provide(ctx, id)
}

func TestProvideLocalArtifactsAbortsOnFirstError(t *testing.T) {
	ctx := context.Background()
	s, store, _, p2p := newTestService()
	if err := store.Push(ctx, artifact.ID("art-1"), bytes.NewReader([]byte("a"))); err != nil {
		t.Fatalf("Push() = %v", err)
	}
	if err := store.Push(ctx, artifact.ID("art-2"), bytes.NewReader([]byte("b"))); err != nil {
		t.Fatalf("Push() = %v", err)
	}
	failing := errors.New("network down")
	p2p.ProvideErr = failing
	counter := &countingProvider{Fake: p2p}
	s.P2P = counter

	if err := s.ProvideLocalArtifacts(ctx); !errors.Is(err, failing) {
		t.Fatalf("ProvideLocalArtifacts() error = %v, want %v", err, failing)
	}
	if counter.calls != 1 {
		t.Errorf("Provide called %d times, want 1", counter.calls)
	}
}
