// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package groupid canonicalizes the three group-ID encodings the messaging
// network emits: standard base64, URL-safe base64, and URL-safe base64
// carrying the "group." prefix. The canonical form is standard base64 with
// padding restored, so any two variants of the same group compare equal
// after normalization.
package groupid

import (
	"encoding/base64"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/irregularchat/signalbridge/internal/logging"
)

// Prefix is the fixed textual prefix carried by the third encoding.
const Prefix = "group."

// Normalizer caches the bidirectional variant mapping so repeated lookups
// are O(1). Entries are replaced wholesale on write, never mutated in place.
type Normalizer struct {
	mu sync.RWMutex

	// toCanonical maps every observed variant to its canonical form.
	toCanonical map[string]string

	// variants maps a canonical form to all variants observed for it.
	variants map[string]map[string]struct{}

	log zerolog.Logger
}

// New creates an empty normalizer.
func New() *Normalizer {
	return &Normalizer{
		toCanonical: make(map[string]string),
		variants:    make(map[string]map[string]struct{}),
		log:         logging.With().Str("component", "groupid").Logger(),
	}
}

// Normalize collapses any known encoding of a group ID into the canonical
// form. Malformed input returns ("", false) and is logged, never fatal.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	n.mu.RLock()
	canonical, ok := n.toCanonical[raw]
	n.mu.RUnlock()
	if ok {
		return canonical, true
	}

	canonical, ok = canonicalize(raw)
	if !ok {
		n.log.Warn().Str("group_id", raw).Msg("unrecognized group ID encoding")
		return "", false
	}

	n.record(raw, canonical)
	return canonical, true
}

// AllFormats returns every encoding known for the canonical ID: the three
// derivable forms plus any observed variants. The result is sorted for
// deterministic comparison. Returns nil if the input is not a canonical ID
// produced by Normalize.
func (n *Normalizer) AllFormats(canonical string) []string {
	if _, ok := canonicalize(canonical); !ok {
		return nil
	}

	set := map[string]struct{}{
		canonical:                   {},
		urlSafe(canonical):          {},
		Prefix + urlSafe(canonical): {},
	}

	n.mu.RLock()
	for v := range n.variants[canonical] {
		set[v] = struct{}{}
	}
	n.mu.RUnlock()

	formats := make([]string, 0, len(set))
	for f := range set {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// record stores the variant mapping, replacing the canonical entry's
// variant set wholesale.
func (n *Normalizer) record(variant, canonical string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.toCanonical[variant] = canonical
	n.toCanonical[canonical] = canonical

	replacement := map[string]struct{}{variant: {}, canonical: {}}
	for v := range n.variants[canonical] {
		replacement[v] = struct{}{}
	}
	n.variants[canonical] = replacement
}

// canonicalize converts one encoding to standard padded base64 and verifies
// that it decodes.
func canonicalize(raw string) (string, bool) {
	s := strings.TrimPrefix(raw, Prefix)
	if s == "" {
		return "", false
	}

	// Reverse URL-safe substitutions.
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")

	// Restore standard padding.
	s = strings.TrimRight(s, "=")
	switch len(s) % 4 {
	case 1:
		return "", false
	case 2:
		s += "=="
	case 3:
		s += "="
	}

	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return "", false
	}
	return s, true
}

// urlSafe converts a canonical ID to its unpadded URL-safe variant.
func urlSafe(canonical string) string {
	s := strings.ReplaceAll(canonical, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimRight(s, "=")
}
