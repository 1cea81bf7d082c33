// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no matching response arrived within the call window.
	// For read-only methods this is a hard failure. Mutating methods never
	// surface ErrTimeout; they report StatusUnconfirmed instead.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrNotConnected indicates the client has no live connection to the daemon.
	ErrNotConnected = errors.New("rpc: not connected")

	// ErrClosed indicates the client has been shut down.
	ErrClosed = errors.New("rpc: client closed")
)

// RemoteError is a JSON-RPC error object returned by the daemon.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

// Status reports how a call concluded.
type Status int

const (
	// StatusConfirmed means a matching response was received.
	StatusConfirmed Status = iota

	// StatusUnconfirmed means a mutating call timed out or lost its
	// connection after the request was written. The mutation likely
	// completed but was never confirmed.
	StatusUnconfirmed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusUnconfirmed:
		return "unconfirmed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// mutatingMethods lists methods whose timeout is ambiguous success rather
// than failure. The daemon frequently completes these after the correlation
// window closes.
var mutatingMethods = map[string]bool{
	"updateGroup": true,
	"quitGroup":   true,
}

// isMutating reports whether a timed-out call of the given method should be
// reported as unconfirmed instead of failed.
func isMutating(method string) bool {
	return mutatingMethods[method]
}
