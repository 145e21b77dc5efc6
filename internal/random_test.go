package internal

import (
	"strings"
	"testing"
)

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if !ValidID(id) {
			t.Fatalf("NewID produced invalid id %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestClientValue(t *testing.T) {
	if got := ClientValue("  dev\x00ice\n ", 64); got != "device" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("é", 10)
	got := ClientValue(long, 5)
	if len(got) > 5 || !strings.HasPrefix(long, got) {
		t.Fatalf("bad truncation %q", got)
	}
}

func FuzzParseID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	if id, err := NewID(); err == nil {
		f.Add(id)
	}

	f.Fuzz(func(t *testing.T, input string) {
		raw, err := ParseID(input)
		if err != nil {
			return
		}
		if !ValidID(input) {
			t.Fatalf("ParseID accepted invalid id %q", input)
		}
		_ = raw
	})
}
