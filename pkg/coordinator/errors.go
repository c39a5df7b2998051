// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

// Coded is implemented by every error kind in this package so the HTTP
// transport layer (pkg/coordinatorapi) can map it through the same
// grpcToHTTP table the teacher uses in internal/api/rpc.go, without the
// transport layer needing to know about each concrete error type.
type Coded interface {
	error
	Code() codes.Code
}

// NotFoundError: no transparency log entry for the package coordinates.
type NotFoundError struct{ Err error }

func (e *NotFoundError) Error() string    { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error    { return e.Err }
func (e *NotFoundError) Code() codes.Code { return codes.NotFound }

// NotAvailableOnNetworkError: log entry exists but no idle provider.
type NotAvailableOnNetworkError struct{ Err error }

func (e *NotAvailableOnNetworkError) Error() string    { return e.Err.Error() }
func (e *NotAvailableOnNetworkError) Unwrap() error    { return e.Err }
func (e *NotAvailableOnNetworkError) Code() codes.Code { return codes.Unavailable }

// InvalidHashError: verification failed. Never auto-retried.
type InvalidHashError struct {
	ID       artifact.PackageSpecificArtifactID
	Computed artifact.Hash
	Expected artifact.Hash
}

func (e *InvalidHashError) Error() string {
	return fmt.Sprintf("invalid hash for %s: computed %s, expected %s", e.ID, e.Computed, e.Expected)
}
func (e *InvalidHashError) Code() codes.Code { return codes.DataLoss }

// InitializationFailedError: no authorized nodes, or transport failure
// dispatching a build.
type InitializationFailedError struct{ Err error }

func (e *InitializationFailedError) Error() string    { return e.Err.Error() }
func (e *InitializationFailedError) Unwrap() error    { return e.Err }
func (e *InitializationFailedError) Code() codes.Code { return codes.FailedPrecondition }

// BuildStatusFailedError: failure retrieving build status.
type BuildStatusFailedError struct{ Err error }

func (e *BuildStatusFailedError) Error() string    { return e.Err.Error() }
func (e *BuildStatusFailedError) Unwrap() error    { return e.Err }
func (e *BuildStatusFailedError) Code() codes.Code { return codes.Internal }

// ArtifactAlreadyExistsError: duplicate-build suppression triggered.
type ArtifactAlreadyExistsError struct{ Err error }

func (e *ArtifactAlreadyExistsError) Error() string    { return e.Err.Error() }
func (e *ArtifactAlreadyExistsError) Unwrap() error    { return e.Err }
func (e *ArtifactAlreadyExistsError) Code() codes.Code { return codes.AlreadyExists }

// StorageIOError: local disk error, surfaced as a generic wrapped error.
type StorageIOError struct{ Err error }

func (e *StorageIOError) Error() string    { return e.Err.Error() }
func (e *StorageIOError) Unwrap() error    { return e.Err }
func (e *StorageIOError) Code() codes.Code { return codes.Internal }

// LogIOError: transparency log read/write error.
type LogIOError struct{ Err error }

func (e *LogIOError) Error() string    { return e.Err.Error() }
func (e *LogIOError) Unwrap() error    { return e.Err }
func (e *LogIOError) Code() codes.Code { return codes.Internal }

func notFound(err error) error             { return &NotFoundError{Err: err} }
func notAvailable(err error) error         { return &NotAvailableOnNetworkError{Err: err} }
func initFailed(err error) error           { return &InitializationFailedError{Err: err} }
func buildStatusFailed(err error) error    { return &BuildStatusFailedError{Err: err} }
func alreadyExists(err error) error        { return &ArtifactAlreadyExistsError{Err: err} }
func storageIO(err error) error            { return &StorageIOError{Err: err} }
func logIO(err error) error                { return &LogIOError{Err: err} }
func wrap(err error, msg string) error     { return errors.Wrap(err, msg) }
func wrapf(err error, f string, a ...any) error { return errors.Wrapf(err, f, a...) }
