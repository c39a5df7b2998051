// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/ipfs/go-cid"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"

	"github.com/ihcomega56/pyrsia/pkg/artifact"
)

const (
	// ArtifactProtocol carries request_artifact(peer, id) -> bytes.
	ArtifactProtocol protocol.ID = "/pyrsia/artifact/1.0.0"
	// BuildProtocol carries request_build(peer, type, id) -> build_id.
	BuildProtocol protocol.ID = "/pyrsia/build/1.0.0"
	// BuildStatusProtocol carries request_build_status(peer, build_id) -> status.
	BuildStatusProtocol protocol.ID = "/pyrsia/build-status/1.0.0"

	// providePingTimeout bounds how long GetIdlePeer waits for any one
	// candidate's ping round trip before treating it as unreachable.
	providePingTimeout = 3 * time.Second
)

// ArtifactLookup is injected into a DHTClient so it can answer incoming
// RequestArtifact streams from its own node's local inventory — the same
// dependency-injection seam buildexec.LocalExecutor takes for its Runner.
type ArtifactLookup func(ctx context.Context, id artifact.ID) ([]byte, error)

// DHTClient is the real Client adapter: content routing via a Kademlia DHT
// (github.com/libp2p/go-libp2p-kad-dht) for Provide/ListProviders, and
// request/response protocol streams over the libp2p host for
// RequestArtifact/RequestBuild/RequestBuildStatus. This is the Go
// ecosystem's standard library for exactly the capability spec.md's
// Network Client describes, and the same library the original Rust
// source (ihcomega56/pyrsia) is itself built on.
type DHTClient struct {
	host   host.Host
	dht    *kaddht.IpfsDHT
	ping   *ping.PingService
	lookup ArtifactLookup
}

// NewDHTClient wires a DHTClient around an already-constructed libp2p host
// and DHT. Constructing the host/DHT themselves (listen addrs, bootstrap
// peers, NAT traversal) is deployment configuration, done in cmd/pyrsia-node.
// lookup answers incoming RequestArtifact streams from peers; a node
// typically wires this to its own artifact.Store.Pull.
func NewDHTClient(h host.Host, d *kaddht.IpfsDHT, lookup ArtifactLookup) *DHTClient {
	c := &DHTClient{host: h, dht: d, ping: ping.NewPingService(h), lookup: lookup}
	h.SetStreamHandler(ArtifactProtocol, c.handleArtifactRequest)
	return c
}

func (c *DHTClient) LocalPeerID() peer.ID {
	return c.host.ID()
}

// artifactCID derives a content identifier for the DHT from an artifact
// id; the DHT's provider records are keyed by CID, not by our opaque
// string id, so we hash the id itself (not its bytes — the id is already
// the content key assigned by the transparency log).
func artifactCID(id artifact.ID) (cid.Cid, error) {
	mh, err := multihash.Sum([]byte(id), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, errors.Wrap(err, "hashing artifact id")
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Provide announces on the DHT that this node holds id.
func (c *DHTClient) Provide(ctx context.Context, id artifact.ID) error {
	cidKey, err := artifactCID(id)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.dht.Provide(ctx, cidKey, true), "providing %s", id)
}

// ListProviders returns every peer currently advertising id.
func (c *DHTClient) ListProviders(ctx context.Context, id artifact.ID) (map[peer.ID]struct{}, error) {
	cidKey, err := artifactCID(id)
	if err != nil {
		return nil, err
	}
	out := make(map[peer.ID]struct{})
	for info := range c.dht.FindProvidersAsync(ctx, cidKey, 0) {
		out[info.ID] = struct{}{}
	}
	return out, nil
}

// GetIdlePeer picks the lowest-round-trip-time candidate, treating
// unreachable peers as absent. Returns ok=false if none respond.
func (c *DHTClient) GetIdlePeer(ctx context.Context, candidates map[peer.ID]struct{}) (peer.ID, bool, error) {
	var best peer.ID
	bestRTT := time.Duration(-1)
	for p := range candidates {
		pctx, cancel := context.WithTimeout(ctx, providePingTimeout)
		results := c.ping.Ping(pctx, p)
		select {
		case res := <-results:
			if res.Error == nil && (bestRTT < 0 || res.RTT < bestRTT) {
				best, bestRTT = p, res.RTT
			}
		case <-pctx.Done():
		}
		cancel()
	}
	if bestRTT < 0 {
		return "", false, nil
	}
	return best, true, nil
}

type artifactRequest struct {
	ID string `json:"id"`
}

type artifactResponse struct {
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *DHTClient) handleArtifactRequest(s network.Stream) {
	defer s.Close()
	var req artifactRequest
	if err := json.NewDecoder(bufio.NewReader(s)).Decode(&req); err != nil {
		return
	}
	var resp artifactResponse
	if c.lookup == nil {
		resp.Error = "no artifact lookup configured on this node"
	} else if data, err := c.lookup(context.Background(), artifact.ID(req.ID)); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Data = data
	}
	if err := json.NewEncoder(s).Encode(resp); err != nil {
		return
	}
}

// RequestArtifact fetches id's bytes from peer p over ArtifactProtocol.
func (c *DHTClient) RequestArtifact(ctx context.Context, p peer.ID, id artifact.ID) ([]byte, error) {
	s, err := c.host.NewStream(ctx, p, ArtifactProtocol)
	if err != nil {
		return nil, errors.Wrapf(err, "opening stream to %s", p)
	}
	defer s.Close()
	if err := json.NewEncoder(s).Encode(artifactRequest{ID: string(id)}); err != nil {
		return nil, errors.Wrap(err, "sending artifact request")
	}
	var resp artifactResponse
	if err := json.NewDecoder(bufio.NewReader(s)).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "reading artifact response")
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Data, nil
}

type buildRequest struct {
	PackageType       string `json:"package_type"`
	PackageSpecificID string `json:"package_specific_id"`
}

type buildResponse struct {
	BuildID string `json:"build_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequestBuild asks peer p (an authorized node) to build a package.
func (c *DHTClient) RequestBuild(ctx context.Context, p peer.ID, pkgType artifact.PackageType, pkgSpecificID artifact.PackageSpecificID) (string, error) {
	s, err := c.host.NewStream(ctx, p, BuildProtocol)
	if err != nil {
		return "", errors.Wrapf(err, "opening stream to %s", p)
	}
	defer s.Close()
	req := buildRequest{PackageType: string(pkgType), PackageSpecificID: string(pkgSpecificID)}
	if err := json.NewEncoder(s).Encode(req); err != nil {
		return "", errors.Wrap(err, "sending build request")
	}
	var resp buildResponse
	if err := json.NewDecoder(bufio.NewReader(s)).Decode(&resp); err != nil {
		return "", errors.Wrap(err, "reading build response")
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.BuildID, nil
}

type buildStatusRequest struct {
	BuildID string `json:"build_id"`
}

type buildStatusResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RequestBuildStatus asks peer p for buildID's status.
func (c *DHTClient) RequestBuildStatus(ctx context.Context, p peer.ID, buildID string) (Status, error) {
	s, err := c.host.NewStream(ctx, p, BuildStatusProtocol)
	if err != nil {
		return "", errors.Wrapf(err, "opening stream to %s", p)
	}
	defer s.Close()
	if err := json.NewEncoder(s).Encode(buildStatusRequest{BuildID: buildID}); err != nil {
		return "", errors.Wrap(err, "sending build status request")
	}
	var resp buildStatusResponse
	if err := json.NewDecoder(bufio.NewReader(s)).Decode(&resp); err != nil {
		return "", errors.Wrap(err, "reading build status response")
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return Status(resp.Status), nil
}

var _ Client = &DHTClient{}
