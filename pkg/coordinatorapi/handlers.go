// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package coordinatorapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ihcomega56/pyrsia/internal/api"
	"github.com/ihcomega56/pyrsia/internal/httpx"
	"github.com/ihcomega56/pyrsia/pkg/coordinator"
)

func getArtifact(ctx context.Context, req GetArtifactRequest, s coordinator.Service) (*ArtifactResponse, error) {
	data, err := s.GetArtifact(ctx, req.PackageType, req.PackageSpecificArtifact)
	if err != nil {
		return nil, err
	}
	return &ArtifactResponse{Data: data}, nil
}

func getArtifactOrBuild(ctx context.Context, req GetArtifactOrBuildRequest, s coordinator.Service) (*ArtifactResponse, error) {
	data, err := s.GetArtifactOrBuild(ctx, req.PackageType, req.PackageSpecificID, req.PackageSpecificArtifact)
	if err != nil {
		return nil, err
	}
	return &ArtifactResponse{Data: data}, nil
}

func requestBuild(ctx context.Context, req RequestBuildRequest, s coordinator.Service) (*BuildIDResponse, error) {
	buildID, err := s.RequestBuild(ctx, req.PackageType, req.PackageSpecificID)
	if err != nil {
		return nil, err
	}
	return &BuildIDResponse{BuildID: buildID}, nil
}

func getBuildStatus(ctx context.Context, req GetBuildStatusRequest, s coordinator.Service) (*BuildStatusResponse, error) {
	status, err := s.GetBuildStatus(ctx, req.BuildID)
	if err != nil {
		return nil, err
	}
	return &BuildStatusResponse{Status: status}, nil
}

func getLogsForArtifact(ctx context.Context, req GetLogsForArtifactRequest, s coordinator.Service) (*LogsResponse, error) {
	entries, err := s.GetLogsForArtifact(ctx, req.PackageType, req.PackageSpecificID)
	if err != nil {
		return nil, err
	}
	return &LogsResponse{Entries: entries}, nil
}

func handleBuildResult(ctx context.Context, req HandleBuildResultRequest, s coordinator.Service) (*HandleBuildResultResponse, error) {
	if err := s.HandleBuildResult(ctx, req.BuildID, req.Result, coordinator.FileOpener); err != nil {
		return nil, err
	}
	return &HandleBuildResultResponse{}, nil
}

// Routes are the node's HTTP front door paths, registered against a fixed
// coordinator.Service instance (constructed once at node startup, not
// initialized per-request, since every collaborator is already live).
const (
	RouteGetArtifact        = "/artifact"
	RouteGetArtifactOrBuild = "/artifact/or-build"
	RouteRequestBuild       = "/build"
	RouteGetBuildStatus     = "/build/status"
	RouteGetLogsForArtifact = "/logs"
	RouteHandleBuildResult  = "/build/result"
)

// NewMux registers every coordinatorapi route against svc and returns the
// resulting mux, ready to back a cmd/pyrsia-node HTTP server.
func NewMux(svc coordinator.Service) *http.ServeMux {
	init := func(context.Context) (coordinator.Service, error) { return svc, nil }
	mux := http.NewServeMux()
	mux.HandleFunc(RouteGetArtifact, api.Handler(init, getArtifact))
	mux.HandleFunc(RouteGetArtifactOrBuild, api.Handler(init, getArtifactOrBuild))
	mux.HandleFunc(RouteRequestBuild, api.Handler(init, requestBuild))
	mux.HandleFunc(RouteGetBuildStatus, api.Handler(init, getBuildStatus))
	mux.HandleFunc(RouteGetLogsForArtifact, api.Handler(init, getLogsForArtifact))
	mux.HandleFunc(RouteHandleBuildResult, api.Handler(init, handleBuildResult))
	return mux
}

// Client is a thin Stub-based wrapper used by cmd/pyrsiactl.
type Client struct {
	GetArtifact        api.StubT[GetArtifactRequest, ArtifactResponse]
	GetArtifactOrBuild api.StubT[GetArtifactOrBuildRequest, ArtifactResponse]
	RequestBuild       api.StubT[RequestBuildRequest, BuildIDResponse]
	GetBuildStatus     api.StubT[GetBuildStatusRequest, BuildStatusResponse]
	GetLogsForArtifact api.StubT[GetLogsForArtifactRequest, LogsResponse]
}

// NewClient builds stubs for every route rooted at base, using client to
// send requests.
func NewClient(client httpx.BasicClient, base *url.URL) *Client {
	route := func(path string) *url.URL {
		u := *base
		u.Path = path
		return &u
	}
	return &Client{
		GetArtifact:        api.Stub[GetArtifactRequest, ArtifactResponse](client, route(RouteGetArtifact)),
		GetArtifactOrBuild: api.Stub[GetArtifactOrBuildRequest, ArtifactResponse](client, route(RouteGetArtifactOrBuild)),
		RequestBuild:       api.Stub[RequestBuildRequest, BuildIDResponse](client, route(RouteRequestBuild)),
		GetBuildStatus:     api.Stub[GetBuildStatusRequest, BuildStatusResponse](client, route(RouteGetBuildStatus)),
		GetLogsForArtifact: api.Stub[GetLogsForArtifactRequest, LogsResponse](client, route(RouteGetLogsForArtifact)),
	}
}
