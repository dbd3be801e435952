package bridge

import (
	"encoding/json"
	"testing"
)

func TestCompleteTargetCreationOrdersEvents(t *testing.T) {
	sm := NewSessionManager(NewTargetTable(), "ws://127.0.0.1:9222/devtools/browser/bridge", false)

	resp, events, sessionID := sm.CompleteTargetCreation(NewNumericID(1), "client-1", "target-1", "ctx-1", "https://example.com")

	if resp.ID.String() != "1" {
		t.Fatalf("expected response id 1, got %s", resp.ID.String())
	}
	var result struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshaling response result: %v", err)
	}
	if result.TargetID != "target-1" {
		t.Fatalf("expected targetId target-1, got %s", result.TargetID)
	}

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	wantOrder := []string{"Target.targetCreated", "Target.targetInfoChanged", "Target.attachedToTarget"}
	for i, want := range wantOrder {
		if events[i].Method != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].Method)
		}
	}

	if sessionID == "" {
		t.Fatalf("expected a non-empty session id")
	}
	if _, ok := sm.targets.Session(sessionID); !ok {
		t.Fatalf("expected session %s to be registered", sessionID)
	}
}

func TestShouldSuppressAttachAfterCreate(t *testing.T) {
	sm := NewSessionManager(NewTargetTable(), "ws://127.0.0.1:9222/devtools/browser/bridge", false)
	sm.CompleteTargetCreation(NewNumericID(1), "client-1", "target-1", "ctx-1", "about:blank")

	if !sm.ShouldSuppressAttach("target-1") {
		t.Fatalf("expected attach for a bridge-created target to be suppressed")
	}
}

func TestShouldSuppressAttachUntrackedDefault(t *testing.T) {
	sm := NewSessionManager(NewTargetTable(), "ws://127.0.0.1:9222/devtools/browser/bridge", false)

	if !sm.ShouldSuppressAttach("never-created") {
		t.Fatalf("expected untracked attach to be suppressed by default")
	}
}

func TestShouldSuppressAttachUntrackedForwarded(t *testing.T) {
	sm := NewSessionManager(NewTargetTable(), "ws://127.0.0.1:9222/devtools/browser/bridge", true)

	if sm.ShouldSuppressAttach("never-created") {
		t.Fatalf("expected untracked attach to pass through when forwardUntrackedAttach is set")
	}
}

func TestHandleSyntheticAttachToTargetUnknownTarget(t *testing.T) {
	sm := NewSessionManager(NewTargetTable(), "ws://127.0.0.1:9222/devtools/browser/bridge", false)
	client := NewClient("c1", "test", KindCDP)

	params, _ := json.Marshal(map[string]any{"targetId": "missing"})
	_, _, err := sm.HandleSynthetic(client, "Target.attachToTarget", params)
	if err == nil {
		t.Fatalf("expected an error for an unknown targetId")
	}
}

func TestHandleSyntheticUnknownMethod(t *testing.T) {
	sm := NewSessionManager(NewTargetTable(), "ws://127.0.0.1:9222/devtools/browser/bridge", false)
	client := NewClient("c1", "test", KindCDP)

	_, _, err := sm.HandleSynthetic(client, "Foo.bar", nil)
	if err == nil {
		t.Fatalf("expected an error for a non-synthetic method")
	}
}
