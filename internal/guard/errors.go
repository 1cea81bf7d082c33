// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package guard

import (
	"fmt"
	"time"
)

// ValidationError is a typed, user-facing argument validation failure.
type ValidationError struct {
	// Kind is the argument class that failed (phone, opaque-id, url,
	// domain, token, free-text).
	Kind ArgKind

	// Message is safe to echo back to the message sender.
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Message)
}

// RateLimitError carries the remaining cooldown so the sender knows when to
// retry. It is typed and user-facing, never a silent drop.
type RateLimitError struct {
	Class    Class
	Cooldown time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry in %s", e.Class, e.Cooldown.Round(time.Second))
}
