// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinatorapi is the node's own HTTP front door onto
// pkg/coordinator.Service, built on the teacher's internal/api request/
// response framework (Message/Handler/Stub).
package coordinatorapi

import (
	"github.com/pkg/errors"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
	"github.com/ihcomega56/pyrsia/pkg/buildexec"
	"github.com/ihcomega56/pyrsia/pkg/translog"
)

// GetArtifactRequest asks for a single artifact by its package coordinates.
type GetArtifactRequest struct {
	PackageType             artifact.PackageType
	PackageSpecificArtifact artifact.PackageSpecificArtifactID
}

func (r GetArtifactRequest) Validate() error {
	if r.PackageType == "" || r.PackageSpecificArtifact == "" {
		return errors.New("package_type and package_specific_artifact_id are required")
	}
	return nil
}

// ArtifactResponse carries a single artifact's raw bytes.
type ArtifactResponse struct {
	Data []byte
}

// GetArtifactOrBuildRequest asks for an artifact, triggering a speculative
// build on any miss.
type GetArtifactOrBuildRequest struct {
	PackageType             artifact.PackageType
	PackageSpecificID       artifact.PackageSpecificID
	PackageSpecificArtifact artifact.PackageSpecificArtifactID
}

func (r GetArtifactOrBuildRequest) Validate() error {
	if r.PackageType == "" || r.PackageSpecificID == "" || r.PackageSpecificArtifact == "" {
		return errors.New("package_type, package_specific_id, and package_specific_artifact_id are required")
	}
	return nil
}

// RequestBuildRequest asks the coordinator to dispatch a build.
type RequestBuildRequest struct {
	PackageType       artifact.PackageType
	PackageSpecificID artifact.PackageSpecificID
}

func (r RequestBuildRequest) Validate() error {
	if r.PackageType == "" || r.PackageSpecificID == "" {
		return errors.New("package_type and package_specific_id are required")
	}
	return nil
}

// BuildIDResponse carries the id a build was dispatched under.
type BuildIDResponse struct {
	BuildID string
}

// GetBuildStatusRequest asks for a previously dispatched build's status.
type GetBuildStatusRequest struct {
	BuildID string
}

func (r GetBuildStatusRequest) Validate() error {
	if r.BuildID == "" {
		return errors.New("build_id is required")
	}
	return nil
}

// BuildStatusResponse carries an opaque build status token.
type BuildStatusResponse struct {
	Status string
}

// GetLogsForArtifactRequest asks for every transparency log entry recorded
// for a package.
type GetLogsForArtifactRequest struct {
	PackageType       artifact.PackageType
	PackageSpecificID artifact.PackageSpecificID
}

func (r GetLogsForArtifactRequest) Validate() error {
	if r.PackageType == "" || r.PackageSpecificID == "" {
		return errors.New("package_type and package_specific_id are required")
	}
	return nil
}

// LogsResponse carries the matched transparency log entries.
type LogsResponse struct {
	Entries []translog.Entry
}

// HandleBuildResultRequest is posted by the build executor once a build
// finishes, carrying its artifacts for ingestion.
type HandleBuildResultRequest struct {
	BuildID string
	Result  buildexec.BuildResult
}

func (r HandleBuildResultRequest) Validate() error {
	if r.BuildID == "" {
		return errors.New("build_id is required")
	}
	if len(r.Result.Artifacts) == 0 {
		return errors.New("result must contain at least one artifact")
	}
	return nil
}

// HandleBuildResultResponse is empty; success is the absence of an error.
type HandleBuildResultResponse struct{}
