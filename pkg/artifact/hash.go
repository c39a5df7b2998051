// Copyright 2024 The OSS Rebuild Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex hashes the entire blob in one pass and hex-encodes the digest
// lowercase, with no length prefix and no domain separator, per spec.md §4.3.
func SHA256Hex(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:]))
}
