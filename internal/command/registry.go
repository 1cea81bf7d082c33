// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package command maps inbound text commands to registered handlers and
// enforces permission predicates before invocation.
//
// The registry is populated at load time; handlers carry explicit permission
// flags (admin-only, group-only, DM-only) rather than any runtime discovery
// mechanism. The dispatcher walks one inbound message through a fixed
// progression: received, classified, validated, permission-checked,
// dispatched, then completed or rejected. Every rejection class produces a
// distinct user-facing message.
package command

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/irregularchat/signalbridge/internal/guard"
	"github.com/irregularchat/signalbridge/internal/roster"
	"github.com/irregularchat/signalbridge/internal/rpc"
)

// Invocation is the resolved context a handler runs with.
type Invocation struct {
	// Actor is the stable sender identifier.
	Actor string

	// ActorName is the sender's display name, if known.
	ActorName string

	// Group is the membership snapshot of the group the message arrived
	// in. Nil for direct messages and for groups not yet synced.
	Group *roster.Group

	// RawGroupID is the unnormalized group ID from the envelope. Empty
	// for direct messages.
	RawGroupID string

	// Args are the first-line tokens after the command name.
	Args []string

	// Trailing is everything after the first line, never re-parsed as
	// commands.
	Trailing string

	// Mentions are the placeholder spans of the inbound message.
	Mentions []rpc.Mention
}

// MentionedIdentifier returns the identifier of the first mention, if any.
// Handlers prefer this over text arguments: the placeholder in the text is a
// substitution artifact, the span list carries the real identifier.
func (inv *Invocation) MentionedIdentifier() (string, bool) {
	for _, m := range inv.Mentions {
		if id := m.Identifier(); id != "" {
			return id, true
		}
	}
	return "", false
}

// HandlerFunc executes one command and returns the reply text.
type HandlerFunc func(ctx context.Context, inv *Invocation) (string, error)

// Command is one registered command with its permission predicates.
type Command struct {
	// Name is the command token without the prefix, lowercase.
	Name string

	// Summary is the one-line description shown by the help command.
	Summary string

	// Usage is the argument synopsis shown on misuse.
	Usage string

	// Class selects the rate-limit ceiling.
	Class guard.Class

	// AdminOnly requires the actor to be an admin of the group the
	// message arrived in.
	AdminOnly bool

	// GroupOnly rejects invocation from direct messages.
	GroupOnly bool

	// DMOnly rejects invocation from groups.
	DMOnly bool

	// Handler executes the command.
	Handler HandlerFunc
}

// Registry holds the command table. It is populated at load time and
// read-only afterwards.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]*Command)}
}

// Register adds a command. Duplicate names are a programming error.
func (r *Registry) Register(cmd *Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("command registration requires a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.cmds[cmd.Name]; dup {
		return fmt.Errorf("command %q already registered", cmd.Name)
	}
	r.cmds[cmd.Name] = cmd
	return nil
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.cmds[name]
	return cmd, ok
}

// All returns every registered command sorted by name.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Command, 0, len(r.cmds))
	for _, cmd := range r.cmds {
		all = append(all, cmd)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}
