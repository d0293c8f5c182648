package logger

import "testing"

func TestNew(t *testing.T) {
	for _, encoding := range []string{"json", "console", ""} {
		log, err := New("debug", encoding)
		if err != nil {
			t.Fatalf("encoding %q: %v", encoding, err)
		}
		if !log.Core().Enabled(-1) {
			t.Fatalf("encoding %q: expected debug to be enabled", encoding)
		}
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected unknown encoding to fail")
	}
}
