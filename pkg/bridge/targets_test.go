package bridge

import "testing"

func TestTargetTableCreateAndLookup(t *testing.T) {
	tt := NewTargetTable()
	target := tt.CreateTarget("t1", "ctx1", "client1")
	if target.TargetID != "t1" {
		t.Fatalf("expected target id t1, got %s", target.TargetID)
	}

	got, ok := tt.Target("t1")
	if !ok || got != target {
		t.Fatalf("expected to find the created target")
	}
	if tt.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tt.Count())
	}
}

func TestTargetTableRegisterSessionAndRemoveTarget(t *testing.T) {
	tt := NewTargetTable()
	tt.CreateTarget("t1", "ctx1", "client1")
	tt.RegisterSession("s1", "t1", "client1")

	if _, ok := tt.Session("s1"); !ok {
		t.Fatalf("expected session s1 to be registered")
	}

	tt.RemoveTarget("t1")

	if _, ok := tt.Target("t1"); ok {
		t.Fatalf("expected target t1 to be removed")
	}
	if _, ok := tt.Session("s1"); ok {
		t.Fatalf("expected session s1 to be removed along with its target")
	}
}

func TestTargetTableRemoveClientSessionsLeavesTarget(t *testing.T) {
	tt := NewTargetTable()
	tt.CreateTarget("t1", "ctx1", "client1")
	tt.RegisterSession("s1", "t1", "client2")

	removed := tt.RemoveClientSessions("client2")
	if len(removed) != 1 || removed[0].SessionID != "s1" {
		t.Fatalf("expected to remove session s1, got %+v", removed)
	}
	if _, ok := tt.Target("t1"); !ok {
		t.Fatalf("expected target t1 to survive its session's owning client disconnecting")
	}
	if _, ok := tt.Session("s1"); ok {
		t.Fatalf("expected session s1 to be gone")
	}
}

func TestTargetTableActiveTargetEmpty(t *testing.T) {
	tt := NewTargetTable()
	if _, ok := tt.ActiveTarget(); ok {
		t.Fatalf("expected ActiveTarget to report false on an empty table")
	}
}

func TestTargetTableTargetsOwnedBy(t *testing.T) {
	tt := NewTargetTable()
	tt.CreateTarget("t1", "ctx1", "owner")
	tt.CreateTarget("t2", "ctx1", "other")

	owned := tt.TargetsOwnedBy("owner")
	if len(owned) != 1 || owned[0].TargetID != "t1" {
		t.Fatalf("expected only t1 to be owned by 'owner', got %+v", owned)
	}
}
