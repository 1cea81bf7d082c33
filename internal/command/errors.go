// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package command

import "fmt"

// UnknownCommandError is the user-facing rejection for an unregistered
// command name. The message points the sender at the command listing.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("Unknown command %s%s. Send %shelp to list available commands.",
		commandPrefix, e.Name, commandPrefix)
}

// PermissionDeniedError is the user-facing rejection for a failed permission
// predicate.
type PermissionDeniedError struct {
	Name   string
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("You are not permitted to use %s%s: %s", commandPrefix, e.Name, e.Reason)
}

// UsageError is the user-facing rejection for malformed arguments; it
// carries the command synopsis.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "Usage: " + e.Usage
}

// UnknownGroupError is the user-facing rejection for a membership mutation
// whose target group position or ID is not known. Ref carries the listing
// position ("#3") when the argument was index-shaped, empty otherwise.
type UnknownGroupError struct {
	Ref string
}

func (e *UnknownGroupError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("There is no group %s. Send %sgroups to list them.", e.Ref, commandPrefix)
	}
	return fmt.Sprintf("I don't know that group. Send %sgroups to list them.", commandPrefix)
}
