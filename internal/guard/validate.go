// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package guard

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/irregularchat/signalbridge/internal/metrics"
)

// ArgKind classifies a command argument for pattern validation.
type ArgKind string

const (
	KindToken      ArgKind = "token"
	KindPhone      ArgKind = "phone"
	KindOpaqueID   ArgKind = "opaque-id"
	KindURL        ArgKind = "url"
	KindDomain     ArgKind = "domain"
	KindFreeText   ArgKind = "free-text"
	KindIdentifier ArgKind = "identifier" // phone or opaque ID
)

// singleton validator instance; caches struct and tag info, thread-safe.
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Built-in tags cover the argument classes:
		// e164 (phone), uuid4/uuid (opaque ID), url, fqdn (domain)
	})
	return validate
}

// kindTags maps argument kinds to validator tags.
var kindTags = map[ArgKind]string{
	KindPhone:    "e164",
	KindOpaqueID: "uuid",
	KindURL:      "url",
	KindDomain:   "fqdn",
}

// kindCaps maps argument kinds to maximum lengths.
var kindCaps = map[ArgKind]int{
	KindToken:      MaxTokenLen,
	KindPhone:      MaxIdentifierLen,
	KindOpaqueID:   MaxIdentifierLen,
	KindIdentifier: MaxIdentifierLen,
	KindURL:        MaxURLLen,
	KindDomain:     MaxIdentifierLen,
	KindFreeText:   MaxFreeTextLen,
}

// ValidateArg checks one argument against its kind's length cap and format
// predicate. Mismatches fail fast with a typed *ValidationError.
func ValidateArg(kind ArgKind, value string) error {
	if value == "" {
		return fail(kind, fmt.Sprintf("%s argument must not be empty", kind))
	}

	if limit, ok := kindCaps[kind]; ok && len(value) > limit {
		return fail(kind, fmt.Sprintf("%s argument exceeds %d characters", kind, limit))
	}

	switch kind {
	case KindToken:
		if strings.ContainsAny(value, shellAndMarkupChars+" \t\n") {
			return fail(kind, "token contains forbidden characters")
		}
		return nil
	case KindFreeText:
		// Length cap only; content is sanitized separately.
		return nil
	case KindIdentifier:
		if ValidateArg(KindPhone, value) == nil || ValidateArg(KindOpaqueID, value) == nil {
			return nil
		}
		return fail(kind, "expected a phone number or member ID")
	}

	tag, ok := kindTags[kind]
	if !ok {
		return fail(kind, fmt.Sprintf("unknown argument kind %q", kind))
	}
	if err := getValidator().Var(value, tag); err != nil {
		return fail(kind, fmt.Sprintf("value is not a valid %s", kind))
	}
	return nil
}

// ValidateFreeText applies the free-text cap with mention awareness: only
// the portion before the first mention placeholder is validated. The tail is
// a non-semantic substitution artifact whose real identifier comes from the
// mention-span list.
func ValidateFreeText(text string) error {
	head, _, _ := SplitAtMention(text)
	if len(head) > MaxFreeTextLen {
		return fail(KindFreeText, fmt.Sprintf("text exceeds %d characters", MaxFreeTextLen))
	}
	return nil
}

func fail(kind ArgKind, msg string) error {
	metrics.ValidationFailures.WithLabelValues(string(kind)).Inc()
	return &ValidationError{Kind: kind, Message: msg}
}
