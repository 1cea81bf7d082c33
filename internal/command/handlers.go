// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/irregularchat/signalbridge/internal/guard"
	"github.com/irregularchat/signalbridge/internal/roster"
	"github.com/irregularchat/signalbridge/internal/rpc"
)

// GroupUpdater is the mutation surface of the transport. *rpc.Client
// satisfies it.
type GroupUpdater interface {
	UpdateGroup(ctx context.Context, req *rpc.UpdateGroupRequest) (*rpc.Result, error)
}

// Responder generates AI replies with a built-in fallback. *ai.Client
// satisfies it.
type Responder interface {
	CompleteOrFallback(ctx context.Context, prompt, userContext string) string
}

// DomainResolver answers host lookups for the whois command. *net.Resolver
// satisfies it.
type DomainResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Deps carries the collaborators the built-in commands need.
type Deps struct {
	Roster    *roster.Cache
	Updater   GroupUpdater
	Responder Responder
	Resolver  DomainResolver
}

// RegisterBuiltins populates the registry with the standard command set.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	cmds := []*Command{
		{
			Name:    "ping",
			Summary: "Check that the bridge is alive",
			Usage:   commandPrefix + "ping",
			Class:   guard.ClassDefault,
			Handler: func(_ context.Context, _ *Invocation) (string, error) {
				return "pong", nil
			},
		},
		{
			Name:    "help",
			Summary: "List available commands",
			Usage:   commandPrefix + "help",
			Class:   guard.ClassDefault,
			Handler: helpHandler(reg),
		},
		{
			Name:    "groups",
			Summary: "List known groups by size",
			Usage:   commandPrefix + "groups",
			Class:   guard.ClassDefault,
			Handler: groupsHandler(deps.Roster),
		},
		{
			Name:    "adduser",
			Summary: "Add a member to a group",
			Usage:   commandPrefix + "adduser <group # or ID> <@mention or phone/ID>",
			Class:   guard.ClassMembership,
			Handler: membershipHandler(deps, true),
		},
		{
			Name:    "removeuser",
			Summary: "Remove a member from a group",
			Usage:   commandPrefix + "removeuser <group # or ID> <@mention or phone/ID>",
			Class:   guard.ClassMembership,
			Handler: membershipHandler(deps, false),
		},
		{
			Name:    "whois",
			Summary: "Resolve a domain to its addresses",
			Usage:   commandPrefix + "whois <domain>",
			Class:   guard.ClassBulkLookup,
			Handler: whoisHandler(deps.Resolver),
		},
		{
			Name:    "ask",
			Summary: "Ask the assistant a question",
			Usage:   commandPrefix + "ask <question>",
			Class:   guard.ClassAI,
			Handler: askHandler(deps.Responder),
		},
	}

	for _, cmd := range cmds {
		if err := reg.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func helpHandler(reg *Registry) HandlerFunc {
	return func(_ context.Context, _ *Invocation) (string, error) {
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, cmd := range reg.All() {
			fmt.Fprintf(&b, "%s%s — %s\n", commandPrefix, cmd.Name, cmd.Summary)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

func groupsHandler(cache *roster.Cache) HandlerFunc {
	return func(_ context.Context, _ *Invocation) (string, error) {
		ordered := OrderGroups(cache.Groups())
		if len(ordered) == 0 {
			return "No groups known yet. The next membership sync may still be pending.", nil
		}

		var b strings.Builder
		b.WriteString("Known groups:\n")
		for i, g := range ordered {
			fmt.Fprintf(&b, "#%d  %s (%d members)\n", i+1, g.Name, g.MemberCount)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}

// membershipHandler implements adduser and removeuser. The actor must be an
// admin of the TARGET group, which may differ from the group the command
// arrived in, so the check lives here rather than on the AdminOnly flag.
func membershipHandler(deps Deps, add bool) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		name := "removeuser"
		if add {
			name = "adduser"
		}
		usage := &UsageError{Usage: commandPrefix + name + " <group # or ID> <@mention or phone/ID>"}

		if len(inv.Args) < 1 {
			return "", usage
		}
		target, err := resolveTargetGroup(deps.Roster, inv.Args[0])
		if err != nil {
			return "", err
		}
		if !target.IsAdmin(inv.Actor) {
			return "", &PermissionDeniedError{Name: name, Reason: "you must be an admin of " + target.Name}
		}

		member, ok := inv.MentionedIdentifier()
		if !ok {
			if len(inv.Args) < 2 {
				return "", usage
			}
			member = inv.Args[1]
			if err := guard.ValidateArg(guard.KindIdentifier, member); err != nil {
				return "", err
			}
		}

		req := &rpc.UpdateGroupRequest{GroupID: target.CanonicalID}
		if add {
			req.AddMembers = []string{member}
		} else {
			req.RemoveMembers = []string{member}
		}

		res, err := deps.Updater.UpdateGroup(ctx, req)
		if err != nil {
			return "", fmt.Errorf("group update failed: %w", err)
		}
		if res.Status == rpc.StatusUnconfirmed {
			if add {
				return fmt.Sprintf("The add to %s was sent but not confirmed. Check the member list before retrying.", target.Name), nil
			}
			// Retrying an unconfirmed removal is not known to be safe.
			return fmt.Sprintf("The removal from %s was sent but not confirmed. Verify the member list; do not simply resend.", target.Name), nil
		}
		if add {
			return fmt.Sprintf("Added %s to %s.", member, target.Name), nil
		}
		return fmt.Sprintf("Removed %s from %s.", member, target.Name), nil
	}
}

// resolveTargetGroup accepts either a 1-based listing position ("3" or
// "#3") or a group ID in any known encoding. The index refers to the same
// ordering the groups command prints.
func resolveTargetGroup(cache *roster.Cache, arg string) (*roster.Group, error) {
	if idx, err := strconv.Atoi(strings.TrimPrefix(arg, "#")); err == nil {
		ordered := OrderGroups(cache.Groups())
		group, ok := GroupAt(ordered, idx)
		if !ok {
			return nil, &UnknownGroupError{Ref: fmt.Sprintf("#%d", idx)}
		}
		return group, nil
	}

	group, ok := cache.Resolve(arg)
	if !ok {
		return nil, &UnknownGroupError{}
	}
	return group, nil
}

func whoisHandler(resolver DomainResolver) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		if len(inv.Args) != 1 {
			return "", &UsageError{Usage: commandPrefix + "whois <domain>"}
		}
		domain := inv.Args[0]
		if err := guard.ValidateArg(guard.KindDomain, domain); err != nil {
			return "", err
		}

		addrs, err := resolver.LookupHost(ctx, domain)
		if err != nil {
			return fmt.Sprintf("Lookup for %s failed or the domain does not resolve.", domain), nil
		}
		return fmt.Sprintf("%s resolves to: %s", domain, strings.Join(addrs, ", ")), nil
	}
}

func askHandler(responder Responder) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (string, error) {
		prompt := strings.TrimSpace(strings.Join(inv.Args, " ") + "\n" + inv.Trailing)
		if prompt == "" {
			return "", &UsageError{Usage: commandPrefix + "ask <question>"}
		}
		return responder.CompleteOrFallback(ctx, prompt, inv.Actor), nil
	}
}
