// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package buildexec

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// Runner performs the actual build for a package; it is the seam where a
// real build system (container build, sandboxed compiler invocation, ...)
// is plugged in. The coordinator never calls this directly — only
// LocalExecutor does, in a detached goroutine started by StartBuild.
type Runner func(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (BuildResult, error)

// handle tracks one in-flight or completed local build, mirroring the
// teacher's gcbHandle (pkg/build/gcb/handle.go): a result channel plus a
// mutex-guarded status, set once by the goroutine that runs the build.
type handle struct {
	statusMu sync.RWMutex
	status   Status
	err      error
	result   BuildResult
	done     chan struct{}
}

func (h *handle) setStatus(s Status) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	h.status = s
}

func (h *handle) getStatus() Status {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status
}

// LocalExecutor runs builds in-process via a pluggable Runner, tracking
// each by a generated build ID. It implements Client directly (the
// coordinator's "local" dispatch branch in request_build/get_build_status
// calls straight into this).
type LocalExecutor struct {
	run Runner

	mu      sync.Mutex
	handles map[string]*handle
}

// NewLocalExecutor creates an executor that performs builds via run.
func NewLocalExecutor(run Runner) *LocalExecutor {
	return &LocalExecutor{run: run, handles: make(map[string]*handle)}
}

// StartBuild launches the build in a background goroutine and returns
// immediately with its build ID; GetBuildStatus polls the same handle.
func (e *LocalExecutor) StartBuild(ctx context.Context, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error) {
	id := uuid.New().String()
	h := &handle{status: "queued", done: make(chan struct{})}
	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()
	go func() {
		h.setStatus("running")
		result, err := e.run(context.Background(), pkgType, pkgSpecificID)
		h.statusMu.Lock()
		h.result = result
		h.err = err
		if err != nil {
			h.status = "failed"
		} else {
			h.status = "succeeded"
		}
		h.statusMu.Unlock()
		close(h.done)
	}()
	return id, nil
}

// GetBuildStatus returns the handle's current status token.
func (e *LocalExecutor) GetBuildStatus(ctx context.Context, buildID string) (Status, error) {
	e.mu.Lock()
	h, ok := e.handles[buildID]
	e.mu.Unlock()
	if !ok {
		return "", errors.Errorf("unknown build id %q", buildID)
	}
	return h.getStatus(), nil
}

// Result blocks until buildID completes and returns its BuildResult. Used
// by a caller (e.g. a build-completion webhook or in-process waiter) that
// wants to feed the result into coordinator.Service.HandleBuildResult once
// it is ready; the coordinator itself never blocks on this.
func (e *LocalExecutor) Result(ctx context.Context, buildID string) (BuildResult, error) {
	e.mu.Lock()
	h, ok := e.handles[buildID]
	e.mu.Unlock()
	if !ok {
		return BuildResult{}, errors.Errorf("unknown build id %q", buildID)
	}
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return BuildResult{}, ctx.Err()
	}
}

var _ Client = &LocalExecutor{}
