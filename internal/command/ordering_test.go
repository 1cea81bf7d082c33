// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package command

import (
	"testing"

	"github.com/irregularchat/signalbridge/internal/roster"
)

func TestOrderGroupsDescendingMemberCount(t *testing.T) {
	groups := []*roster.Group{
		{CanonicalID: "ccc", MemberCount: 5},
		{CanonicalID: "aaa", MemberCount: 12},
		{CanonicalID: "bbb", MemberCount: 8},
	}

	ordered := OrderGroups(groups)
	want := []string{"aaa", "bbb", "ccc"}
	for i, id := range want {
		if ordered[i].CanonicalID != id {
			t.Errorf("position %d: got %q, want %q", i, ordered[i].CanonicalID, id)
		}
	}
}

func TestOrderGroupsTiesBrokenByCanonicalID(t *testing.T) {
	groups := []*roster.Group{
		{CanonicalID: "zzz", MemberCount: 4},
		{CanonicalID: "aaa", MemberCount: 4},
		{CanonicalID: "mmm", MemberCount: 4},
	}

	ordered := OrderGroups(groups)
	want := []string{"aaa", "mmm", "zzz"}
	for i, id := range want {
		if ordered[i].CanonicalID != id {
			t.Errorf("position %d: got %q, want %q", i, ordered[i].CanonicalID, id)
		}
	}
}

func TestOrderGroupsDoesNotMutateInput(t *testing.T) {
	groups := []*roster.Group{
		{CanonicalID: "bbb", MemberCount: 1},
		{CanonicalID: "aaa", MemberCount: 2},
	}
	OrderGroups(groups)
	if groups[0].CanonicalID != "bbb" {
		t.Error("input slice was reordered in place")
	}
}

func TestGroupAtIsOneBased(t *testing.T) {
	ordered := OrderGroups([]*roster.Group{
		{CanonicalID: "aaa", MemberCount: 9},
		{CanonicalID: "bbb", MemberCount: 3},
	})

	g, ok := GroupAt(ordered, 1)
	if !ok || g.CanonicalID != "aaa" {
		t.Errorf("GroupAt(1) = %v, %v; want aaa", g, ok)
	}
	g, ok = GroupAt(ordered, 2)
	if !ok || g.CanonicalID != "bbb" {
		t.Errorf("GroupAt(2) = %v, %v; want bbb", g, ok)
	}
	for _, bad := range []int{0, -1, 3} {
		if _, ok := GroupAt(ordered, bad); ok {
			t.Errorf("GroupAt(%d) should be out of range", bad)
		}
	}
}

// The ordering used by the listing and the ordering used by index
// resolution must come from the same computation for the same snapshot.
func TestListingAndIndexOrderingsAgree(t *testing.T) {
	groups := []*roster.Group{
		{CanonicalID: "g1", Name: "One", MemberCount: 7},
		{CanonicalID: "g2", Name: "Two", MemberCount: 31},
		{CanonicalID: "g3", Name: "Three", MemberCount: 7},
		{CanonicalID: "g0", Name: "Zero", MemberCount: 2},
	}

	listing := OrderGroups(groups)
	for i := range listing {
		byIndex, ok := GroupAt(OrderGroups(groups), i+1)
		if !ok {
			t.Fatalf("index %d unexpectedly out of range", i+1)
		}
		if byIndex.CanonicalID != listing[i].CanonicalID {
			t.Errorf("position %d: listing says %q, index resolution says %q",
				i+1, listing[i].CanonicalID, byIndex.CanonicalID)
		}
	}
}
