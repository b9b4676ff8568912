package blobstore

import "testing"

func TestSanitizeStripsSeparatorsAndControlChars(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd": ".._.._etc_passwd",
		"a\x00b":           "a_b",
		"  spaced.txt  ":   "spaced.txt",
		"":                 "file",
		"...":              "file",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeBoundsLength(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	got := Sanitize(string(long))
	if len(got) != 200 {
		t.Fatalf("expected length 200, got %d", len(got))
	}
}

func TestSafeExtension(t *testing.T) {
	cases := map[string]string{
		"txt":             "txt",
		".txt":            "txt",
		"tar.gz":          "",
		"thisiswaytoolong": "",
		"":                "",
		"a1B2":            "a1B2",
	}
	for in, want := range cases {
		if got := SafeExtension(in); got != want {
			t.Errorf("SafeExtension(%q) = %q, want %q", in, got, want)
		}
	}
}
