package s3

import "testing"

func TestKeyAppliesPrefix(t *testing.T) {
	s := &Store{prefix: "juicebox/"}
	if got := s.key("abc123.txt"); got != "juicebox/abc123.txt" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestKeyNoPrefix(t *testing.T) {
	s := &Store{}
	if got := s.key("abc123.txt"); got != "abc123.txt" {
		t.Fatalf("unexpected key: %q", got)
	}
}
