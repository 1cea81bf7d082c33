// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package groupid

import (
	"encoding/base64"
	"sync"
	"testing"
)

// testGroupBytes produce a canonical form containing both '+' and '/' so all
// three encodings actually differ.
var testGroupBytes = []byte{0xfb, 0xef, 0xbe, 0xff, 0xfe, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x1b}

func encodings(t *testing.T) (canonical, urlsafe, prefixed string) {
	t.Helper()
	canonical = base64.StdEncoding.EncodeToString(testGroupBytes)
	urlsafe = base64.RawURLEncoding.EncodeToString(testGroupBytes)
	prefixed = Prefix + urlsafe
	if canonical == urlsafe {
		t.Fatal("test bytes must produce distinct standard and URL-safe encodings")
	}
	return canonical, urlsafe, prefixed
}

func TestNormalizeAllEncodingsAgree(t *testing.T) {
	canonical, urlsafe, prefixed := encodings(t)
	n := New()

	for _, variant := range []string{canonical, urlsafe, prefixed} {
		got, ok := n.Normalize(variant)
		if !ok {
			t.Fatalf("Normalize(%q) failed", variant)
		}
		if got != canonical {
			t.Errorf("Normalize(%q) = %q, want %q", variant, got, canonical)
		}
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	canonical, _, prefixed := encodings(t)
	n := New()

	// prefix/encoding round-trip: normalize, re-derive formats, normalize again
	c1, ok := n.Normalize(prefixed)
	if !ok {
		t.Fatal("Normalize(prefixed) failed")
	}
	for _, f := range n.AllFormats(c1) {
		c2, ok := n.Normalize(f)
		if !ok {
			t.Fatalf("Normalize(%q) failed on round-trip", f)
		}
		if c2 != canonical {
			t.Errorf("Round-trip of %q gave %q, want %q", f, c2, canonical)
		}
	}
}

func TestAllFormatsIncludesObservedVariant(t *testing.T) {
	_, urlsafe, prefixed := encodings(t)
	n := New()

	canonical, ok := n.Normalize(prefixed)
	if !ok {
		t.Fatal("Normalize failed")
	}

	formats := n.AllFormats(canonical)
	want := map[string]bool{canonical: false, urlsafe: false, prefixed: false}
	for _, f := range formats {
		if _, tracked := want[f]; tracked {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("AllFormats missing %q (got %v)", f, formats)
		}
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := New()
	for _, input := range []string{"", "!!!not-base64!!!", "group.", "a", Prefix + "%%%"} {
		if got, ok := n.Normalize(input); ok {
			t.Errorf("Normalize(%q) = %q, expected failure", input, got)
		}
	}
}

func TestAllFormatsUnknownCanonical(t *testing.T) {
	n := New()
	if formats := n.AllFormats("!!!"); formats != nil {
		t.Errorf("Expected nil for malformed canonical, got %v", formats)
	}
}

func TestNormalizeCachesLookups(t *testing.T) {
	canonical, urlsafe, _ := encodings(t)
	n := New()

	if _, ok := n.Normalize(urlsafe); !ok {
		t.Fatal("Normalize failed")
	}

	n.mu.RLock()
	cached, ok := n.toCanonical[urlsafe]
	n.mu.RUnlock()
	if !ok || cached != canonical {
		t.Errorf("Variant not cached: got %q, %v", cached, ok)
	}
}

func TestNormalizeConcurrent(t *testing.T) {
	canonical, urlsafe, prefixed := encodings(t)
	n := New()
	variants := []string{canonical, urlsafe, prefixed}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			got, ok := n.Normalize(v)
			if !ok || got != canonical {
				t.Errorf("Normalize(%q) = %q, %v under concurrency", v, got, ok)
			}
			_ = n.AllFormats(canonical)
		}(variants[i%len(variants)])
	}
	wg.Wait()
}

func TestPaddedURLSafeVariant(t *testing.T) {
	canonical, _, _ := encodings(t)
	padded := base64.URLEncoding.EncodeToString(testGroupBytes) // keeps '=' padding
	n := New()

	got, ok := n.Normalize(padded)
	if !ok || got != canonical {
		t.Errorf("Normalize(padded urlsafe) = %q, %v, want %q", got, ok, canonical)
	}
}
