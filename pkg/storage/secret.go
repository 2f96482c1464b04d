// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// APITokenPrefix marks hubward-issued API token secrets so they are easy to
// recognize in configuration files and secret scanners.
const APITokenPrefix = "hw_"

// NewAPITokenSecret generates a fresh API token secret and returns it with
// its storage hash. The secret itself is never persisted.
func NewAPITokenSecret() (secret, hash string) {
	secret = APITokenPrefix + rand.Text() + rand.Text()
	return secret, HashToken(secret)
}

// HashToken returns the hex-encoded SHA-256 digest under which a token
// secret is stored and looked up.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// LooksLikeAPIToken reports whether a presented bearer token carries the
// hubward API token prefix. Tokens without it may still be API tokens issued
// before the prefix was introduced, so this is a hint, not a filter.
func LooksLikeAPIToken(secret string) bool {
	return strings.HasPrefix(secret, APITokenPrefix)
}
