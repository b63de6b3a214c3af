package util

import "testing"

func TestHideSecret(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"ab":                   "ab",
		"abcd":                 "a...d",
		"abcdefgh":             "ab...gh",
		"sk_live_1234567890ab": "sk_l...90ab",
	}
	for in, want := range cases {
		if got := HideSecret(in); got != want {
			t.Fatalf("HideSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"page=2&page_size=20", "page=2&page_size=20"},
		{"token=abcdefghijkl&page=1", "token=abcd...ijkl&page=1"},
		{"api_key=secretvalue", "api_key=secr...alue"},
		{"unread=1&&Password=hunter22", "unread=1&&Password=hu...22"},
	}
	for _, tc := range cases {
		if got := MaskSensitiveQuery(tc.raw); got != tc.want {
			t.Fatalf("MaskSensitiveQuery(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
