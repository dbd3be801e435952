package bridge

import "testing"

func TestCDPErrorCodeMapping(t *testing.T) {
	cases := map[error]int{
		ErrExtensionOffline: -32000,
		ErrInvalidMessageID: -32600,
		ErrCommandTimeout:   -32000,
		ErrTransportLost:    -32000,
	}
	for err, want := range cases {
		if got := CDPErrorCode(err); got != want {
			t.Fatalf("%v: expected code %d, got %d", err, want, got)
		}
	}
}

func TestCDPErrorCodeDefaultsToInternalError(t *testing.T) {
	if got := CDPErrorCode(ErrParse); got != -32603 {
		t.Fatalf("expected -32603 for an unmapped error, got %d", got)
	}
}
