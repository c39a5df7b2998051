// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ihcomega56/pyrsia/internal/httpx"
)

// Dependencies is whatever a HandlerT needs, obtained from an InitT on
// every request (here, a coordinator.Service value — cheap to copy, see
// pkg/coordinator — that pkg/coordinatorapi's InitT returns unchanged).
type Dependencies any

type InitT[D Dependencies] func(context.Context) (D, error)
type HandlerT[I Message, O any, D Dependencies] func(context.Context, I, D) (*O, error)
type StubT[I Message, O any] func(context.Context, I) (*O, error)

type NoDeps struct{}

func NoDepsInit(context.Context) (*NoDeps, error) { return &NoDeps{}, nil }

var ErrNotOK = errors.New("non-OK response")

// Stub builds a client-side StubT that POSTs a JSON-encoded I to u and
// decodes a JSON O from the response. Unlike the teacher's form-encoded
// Stub (internal/api/rpc.go), this encodes the request body as JSON
// because the teacher's internal/api/form package was not present in the
// retrieved example pack (see DESIGN.md); the rest of the shape —
// Validate before send, ErrNotOK on non-200 — is unchanged.
func Stub[I Message, O any](client httpx.BasicClient, u *url.URL) StubT[I, O] {
	return func(ctx context.Context, i I) (*O, error) {
		if err := i.Validate(); err != nil {
			return nil, errors.Wrap(err, "validating request")
		}
		body, err := json.Marshal(i)
		if err != nil {
			return nil, errors.Wrap(err, "serializing request")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "building http request")
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "making http request")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Wrap(ErrNotOK, resp.Status)
		}
		var o O
		if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}
		return &o, nil
	}
}

// AsStatus wraps err as a gRPC status carrying code. Handler does not use
// it: it reads the code of pkg/coordinator's typed errors through Coded.
func AsStatus(code codes.Code, err error) error {
	return status.New(code, err.Error()).Err()
}

// Coded is satisfied by every pkg/coordinator error type; Handler uses it
// to pick the gRPC code to convert an error into before consulting
// grpcToHTTP, rather than defaulting every error to codes.Unknown.
type Coded interface {
	error
	Code() codes.Code
}

var grpcToHTTP = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.Canceled:           499, // Client Closed Request
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.Aborted:            http.StatusConflict,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

// Handler builds a server-side http.HandlerFunc: decode I as JSON,
// validate, construct D, call handler, and translate its error (if any)
// through grpcToHTTP.
func Handler[I Message, O any, D Dependencies](initDeps InitT[D], handler HandlerT[I, O, D]) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req I
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Println(errors.Wrap(err, "parsing request"))
			http.Error(rw, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		log.Printf("received request: %+v", req)
		if err := req.Validate(); err != nil {
			log.Println(errors.Wrap(err, "validating request"))
			http.Error(rw, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		deps, err := initDeps(ctx)
		if err != nil {
			log.Println(errors.Wrap(err, "initializing dependencies"))
			http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		o, err := handler(ctx, req, deps)
		code := codes.Unknown
		if err != nil {
			if c, ok := err.(Coded); ok {
				code = c.Code()
			}
		} else {
			code = codes.OK
		}
		httpStatus, ok := grpcToHTTP[code]
		if !ok {
			log.Printf("unknown error code: %s\n", code)
			httpStatus = http.StatusInternalServerError
		}
		if httpStatus != http.StatusOK {
			log.Println(err)
			http.Error(rw, http.StatusText(httpStatus), httpStatus)
			return
		}
		if o != nil {
			if err := json.NewEncoder(rw).Encode(o); err != nil {
				log.Println(errors.Wrap(err, "encoding response"))
				http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	}
}
