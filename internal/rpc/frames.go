// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package rpc

import (
	"github.com/goccy/go-json"
)

// request is an outbound JSON-RPC 2.0 frame.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      string      `json:"id"`
}

// frame is an inbound line from the daemon. A non-empty ID marks it as a
// response to a pending call; a non-empty Method with no ID marks it as an
// asynchronous notification.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Result is the outcome of a call.
type Result struct {
	// Status is StatusConfirmed when a response was matched, or
	// StatusUnconfirmed when a mutating call's window closed first.
	Status Status

	// Payload is the matched response payload. Nil when unconfirmed.
	Payload json.RawMessage
}

// Mention locates a placeholder reference inside message text.
type Mention struct {
	UUID   string `json:"uuid,omitempty"`
	Number string `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
	Start  int    `json:"start"`
	Length int    `json:"length"`
}

// Identifier returns the best available member identifier for the mention.
func (m Mention) Identifier() string {
	if m.UUID != "" {
		return m.UUID
	}
	return m.Number
}

// GroupInfo carries the raw, unnormalized group ID of an inbound message.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type,omitempty"`
}

// DataMessage is the message body of an inbound envelope.
type DataMessage struct {
	Timestamp int64      `json:"timestamp"`
	Message   string     `json:"message"`
	GroupInfo *GroupInfo `json:"groupInfo,omitempty"`
	Mentions  []Mention  `json:"mentions,omitempty"`
}

// Envelope is one inbound notification from the daemon.
type Envelope struct {
	Source       string       `json:"source"`
	SourceUUID   string       `json:"sourceUuid,omitempty"`
	SourceNumber string       `json:"sourceNumber,omitempty"`
	SourceName   string       `json:"sourceName,omitempty"`
	Timestamp    int64        `json:"timestamp"`
	DataMessage  *DataMessage `json:"dataMessage,omitempty"`
}

// Sender returns the stable sender identifier, preferring the account UUID.
func (e *Envelope) Sender() string {
	if e.SourceUUID != "" {
		return e.SourceUUID
	}
	if e.SourceNumber != "" {
		return e.SourceNumber
	}
	return e.Source
}

// receiveParams is the params object of a "receive" notification.
type receiveParams struct {
	Envelope *Envelope `json:"envelope"`
	Account  string    `json:"account,omitempty"`
}

// GroupEntry is one group in a listGroups response.
type GroupEntry struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Members []GroupMember `json:"members,omitempty"`
	Admins  []GroupMember `json:"admins,omitempty"`
}

// GroupMember is a member record inside a listGroups response.
type GroupMember struct {
	UUID   string `json:"uuid,omitempty"`
	Number string `json:"number,omitempty"`
}

// Identifier returns the stable member identifier, preferring the UUID.
func (m GroupMember) Identifier() string {
	if m.UUID != "" {
		return m.UUID
	}
	return m.Number
}

// UpdateGroupRequest describes a combined group mutation. Any of the member
// and admin slices may be set in one call.
type UpdateGroupRequest struct {
	GroupID       string   `json:"groupId"`
	AddMembers    []string `json:"addMembers,omitempty"`
	RemoveMembers []string `json:"removeMembers,omitempty"`
	AddAdmins     []string `json:"addAdmins,omitempty"`
}
