// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

/*
Package rpc owns the persistent connection to the external messaging daemon.

The daemon speaks newline-delimited JSON-RPC 2.0 over a Unix socket. Each
outbound request carries a UUID correlation ID and registers a pending call;
the single read loop matches response lines back to their pending call by ID.
Lines without an ID are asynchronous notifications (inbound messages,
receipts) and are forwarded exactly once to the notification channel.

Timeout semantics differ by method class. Read-only methods (listGroups,
version) treat a timeout as a hard failure. Group-mutating methods
(updateGroup) treat a timeout as ambiguous success: the daemon frequently
completes the mutation after the correlation window closes, so the result is
reported as StatusUnconfirmed rather than an error. Callers must not retry
unconfirmed removals blindly.

On connection loss the client reconnects with exponential backoff (1s initial,
doubling to a 32s ceiling). The backoff resets once a connection survives the
stability window.
*/
package rpc
