// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package rpc

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// sendParams is the parameter object for the send method. A recipient and a
// group ID are mutually exclusive.
type sendParams struct {
	Recipient []string `json:"recipient,omitempty"`
	GroupID   string   `json:"groupId,omitempty"`
	Message   string   `json:"message"`
}

// listGroupsParams controls member detail in listGroups responses.
type listGroupsParams struct {
	Detailed bool `json:"detailed"`
}

// SendDirectMessage sends a direct message to one recipient.
func (c *Client) SendDirectMessage(ctx context.Context, recipient, text string) error {
	_, err := c.Call(ctx, "send", &sendParams{Recipient: []string{recipient}, Message: text})
	if err != nil {
		return fmt.Errorf("send direct message: %w", err)
	}
	return nil
}

// SendGroupMessage sends a message to a group by its raw or canonical ID.
func (c *Client) SendGroupMessage(ctx context.Context, groupID, text string) error {
	_, err := c.Call(ctx, "send", &sendParams{GroupID: groupID, Message: text})
	if err != nil {
		return fmt.Errorf("send group message: %w", err)
	}
	return nil
}

// ListGroups fetches all groups, optionally with full member detail.
// A timeout is a hard failure; listing is read-only.
func (c *Client) ListGroups(ctx context.Context, detailed bool) ([]GroupEntry, error) {
	res, err := c.Call(ctx, "listGroups", &listGroupsParams{Detailed: detailed})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	var groups []GroupEntry
	if err := json.Unmarshal(res.Payload, &groups); err != nil {
		return nil, fmt.Errorf("decode group listing: %w", err)
	}
	return groups, nil
}

// UpdateGroup applies a combined membership mutation. The returned Result
// may carry StatusUnconfirmed: the mutation likely completed but was never
// confirmed within the correlation window. Callers must surface that status
// rather than reporting plain success, and must not blindly retry removals.
func (c *Client) UpdateGroup(ctx context.Context, req *UpdateGroupRequest) (*Result, error) {
	res, err := c.Call(ctx, "updateGroup", req)
	if err != nil {
		return nil, fmt.Errorf("update group: %w", err)
	}
	return res, nil
}

// Version queries the daemon version. Used as a health probe; a timeout is
// a hard failure.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.Call(ctx, "version", nil)
	if err != nil {
		return "", fmt.Errorf("version: %w", err)
	}

	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(res.Payload, &v); err != nil {
		return "", fmt.Errorf("decode version: %w", err)
	}
	return v.Version, nil
}
