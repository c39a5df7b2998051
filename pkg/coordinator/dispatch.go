// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import "github.com/libp2p/go-libp2p/core/peer"

// selectDispatchPeer implements spec.md §4.1.3/§9's "first-match-else-last"
// rule over the authorized-node set: prefer the local peer if present,
// otherwise fall back to whichever peer the set iterator yields last. This
// is deliberately not round-robin and not random — it must stay
// deterministic per call given a stable iteration order of nodes, matching
// the original Rust source's `nodes.iter().find_or_last(...)` exactly. Do
// not substitute a different selection policy here.
func selectDispatchPeer(local peer.ID, nodes []peer.ID) peer.ID {
	var last peer.ID
	for _, p := range nodes {
		last = p
		if p == local {
			return p
		}
	}
	return last
}
