package session

import "testing"

func TestRetryableConnack(t *testing.T) {
	cases := map[uint8]bool{
		0x00: true,
		0x88: true,
		0x89: true,
		0x97: true,
		0x9F: true,
		0x86: false, // bad username/password - fatal
		0x87: false, // not authorized - fatal
		0x84: false, // unsupported protocol version - fatal
	}
	for code, want := range cases {
		if got := RetryableConnack(code); got != want {
			t.Errorf("RetryableConnack(0x%02x) = %v, want %v", code, got, want)
		}
	}
}

func TestRetryableDisconnect(t *testing.T) {
	cases := map[uint8]bool{
		0x00: true,
		0x8B: true,
		0x8D: true,
		0x9E: false, // shared subscriptions not supported - fatal
		0x87: false, // not authorized - fatal
	}
	for code, want := range cases {
		if got := RetryableDisconnect(code); got != want {
			t.Errorf("RetryableDisconnect(0x%02x) = %v, want %v", code, got, want)
		}
	}
}
