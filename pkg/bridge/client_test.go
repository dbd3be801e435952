package bridge

import "testing"

func TestClientEnqueueClosesOnFullOutbox(t *testing.T) {
	c := NewClient("c1", "test", KindCDP)

	for i := 0; i < clientOutboxSize; i++ {
		if !c.Enqueue(i) {
			t.Fatalf("unexpected early close at entry %d", i)
		}
	}
	if c.Enqueue("overflow") {
		t.Fatalf("expected Enqueue to report failure once the outbox is full")
	}
	if !c.Closed() {
		t.Fatalf("expected the client to be closed after a full-outbox enqueue")
	}
}

func TestClientSubscribeIdempotent(t *testing.T) {
	c := NewClient("c1", "test", KindBROP)
	c.Subscribe("tab1")
	c.Subscribe("tab1")
	if !c.SubscribedTo("tab1") {
		t.Fatalf("expected client to be subscribed to tab1")
	}
	c.Unsubscribe("tab1")
	if c.SubscribedTo("tab1") {
		t.Fatalf("expected client to be unsubscribed from tab1")
	}
}

func TestClientRegistryBrowserLevelClients(t *testing.T) {
	cr := NewClientRegistry()
	browserLevel := NewClient("c1", "a", KindCDP)
	browserLevel.Role = RoleBrowserLevel
	sessionBound := NewClient("c2", "b", KindCDP)
	sessionBound.Role = RoleSessionBound
	bropClient := NewClient("c3", "c", KindBROP)

	cr.Add(browserLevel)
	cr.Add(sessionBound)
	cr.Add(bropClient)

	browserClients := cr.BrowserLevelClients()
	if len(browserClients) != 1 || browserClients[0].ID != "c1" {
		t.Fatalf("expected only c1 to be browser-level, got %+v", browserClients)
	}

	bropClients := cr.BROPClients()
	if len(bropClients) != 1 || bropClients[0].ID != "c3" {
		t.Fatalf("expected only c3 to be a BROP client, got %+v", bropClients)
	}

	if cr.Count() != 3 {
		t.Fatalf("expected count 3, got %d", cr.Count())
	}

	cr.Remove("c1")
	if cr.Count() != 2 {
		t.Fatalf("expected count 2 after removal, got %d", cr.Count())
	}
	if _, ok := cr.Get("c1"); ok {
		t.Fatalf("expected c1 to be gone after removal")
	}
}
