// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package buildexec

import (
	"context"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// Fake is a hand-written test double recording calls and returning
// caller-supplied stub values, in the style of the teacher's own
// smoketestStub/versionStub test fields
// (internal/api/apiservice/smoketest_test.go) rather than a mocking
// framework.
type Fake struct {
	StartBuildFunc      func(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error)
	GetBuildStatusFunc  func(ctx context.Context, buildID string) (Status, error)
	StartBuildCalls     []artifact.PackageSpecificID
}

func (f *Fake) StartBuild(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error) {
	f.StartBuildCalls = append(f.StartBuildCalls, pkgSpecificID)
	if f.StartBuildFunc != nil {
		return f.StartBuildFunc(ctx, pkgType, pkgSpecificID)
	}
	return "build_start_ok", nil
}

func (f *Fake) GetBuildStatus(ctx context.Context, buildID string) (Status, error) {
	if f.GetBuildStatusFunc != nil {
		return f.GetBuildStatusFunc(ctx, buildID)
	}
	return "succeeded", nil
}

var _ Client = &Fake{}
