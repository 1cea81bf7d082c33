// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package command

import (
	"sort"

	"github.com/irregularchat/signalbridge/internal/roster"
)

// OrderGroups sorts a snapshot by descending member count, ties broken by
// canonical ID ascending. Every command that numbers groups for user
// selection (the listing, and any command accepting "group #N") MUST order
// through this function; two commands computing their own orderings is a
// correctness bug.
func OrderGroups(groups []*roster.Group) []*roster.Group {
	ordered := make([]*roster.Group, len(groups))
	copy(ordered, groups)

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].MemberCount != ordered[j].MemberCount {
			return ordered[i].MemberCount > ordered[j].MemberCount
		}
		return ordered[i].CanonicalID < ordered[j].CanonicalID
	})
	return ordered
}

// GroupAt returns the group at a 1-based listing position.
func GroupAt(ordered []*roster.Group, index int) (*roster.Group, bool) {
	if index < 1 || index > len(ordered) {
		return nil, false
	}
	return ordered[index-1], true
}
