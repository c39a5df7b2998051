// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildexec is the build event client collaborator: a facade over
// an in-process (or remote) build executor that starts builds and reports
// their status. Per spec.md §2/§4.1, the executor that actually compiles a
// package is hidden behind this start/status capability and is out of
// scope for the coordinator itself.
package buildexec

import (
	"context"
	"io"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// BuiltArtifact is one artifact produced for a package build.
type BuiltArtifact struct {
	ArtifactSpecificID artifact.PackageSpecificArtifactID
	ArtifactHash       artifact.Hash
	// ArtifactLocation names a local path the coordinator can open as a
	// streaming reader to ingest the built bytes into artifact storage.
	ArtifactLocation string
}

// BuildResult is the output of a completed build: len(Artifacts) > 0 per
// spec.md §3.
type BuildResult struct {
	PackageType       artifact.PackageType
	PackageSpecificID artifact.PackageSpecificID
	Artifacts         []BuiltArtifact
}

// Status is an opaque, executor-defined status token
// ("queued"/"running"/"succeeded"/"failed:...", etc.); the coordinator
// never interprets it beyond passing it through.
type Status string

// Client is the capability facade the coordinator calls into:
// start_build(pkg_type, pkg_id) -> build_id, get_build_status(build_id) -> status.
type Client interface {
	StartBuild(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error)
	GetBuildStatus(ctx context.Context, buildID string) (Status, error)
}

// Opener is implemented by callers of HandleBuildResult that need to
// stream an artifact's bytes from wherever the build executor left them.
type Opener func(location string) (io.ReadCloser, error)
