package bridge

import (
	"testing"
	"time"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(nil)
	req := &PendingRequest{RequestID: "r1", OriginClientID: "c1", Method: "Page.enable"}
	r.Register(req, time.Second)

	got, ok := r.Resolve("r1")
	if !ok || got.RequestID != "r1" {
		t.Fatalf("expected to resolve r1, got %+v ok=%v", got, ok)
	}

	if _, ok := r.Resolve("r1"); ok {
		t.Fatalf("expected a second resolve of the same id to fail")
	}
}

func TestRegistryTimeout(t *testing.T) {
	timedOut := make(chan *PendingRequest, 1)
	r := NewRegistry(func(req *PendingRequest) { timedOut <- req })

	r.Register(&PendingRequest{RequestID: "r1"}, 10*time.Millisecond)

	select {
	case req := <-timedOut:
		if req.RequestID != "r1" {
			t.Fatalf("expected timeout for r1, got %s", req.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for onTimeout callback")
	}

	if r.Len() != 0 {
		t.Fatalf("expected registry to be empty after timeout, got %d", r.Len())
	}
}

func TestRegistryCancelClient(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&PendingRequest{RequestID: "r1", OriginClientID: "c1"}, time.Minute)
	r.Register(&PendingRequest{RequestID: "r2", OriginClientID: "c2"}, time.Minute)
	r.Register(&PendingRequest{RequestID: "r3", OriginClientID: "c1"}, time.Minute)

	cancelled := r.CancelClient("c1")
	if len(cancelled) != 2 {
		t.Fatalf("expected 2 cancelled requests for c1, got %d", len(cancelled))
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 remaining request, got %d", r.Len())
	}
}

func TestRegistryCancelNonSurviving(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&PendingRequest{RequestID: "r1", KeepAcrossReconnect: true}, time.Minute)
	r.Register(&PendingRequest{RequestID: "r2"}, time.Minute)

	dropped := r.CancelNonSurviving()
	if len(dropped) != 1 || dropped[0].RequestID != "r2" {
		t.Fatalf("expected only r2 to be dropped, got %+v", dropped)
	}
	if r.Len() != 1 {
		t.Fatalf("expected the surviving request to remain, got %d", r.Len())
	}
}
