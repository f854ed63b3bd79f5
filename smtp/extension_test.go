package smtp

import "testing"

func TestParseExtensions(t *testing.T) {
	lines := []string{
		"mail.example.com greets you",
		"STARTTLS",
		"AUTH CRAM-MD5 LOGIN PLAIN",
		"SIZE 35882577",
		"8BITMIME",
	}
	ext, mechs := ParseExtensions(lines)

	if !ext.Has("STARTTLS") {
		t.Error("expected STARTTLS extension")
	}
	if !ext.Has("8bitmime") {
		t.Error("Has should be case-insensitive")
	}
	if ext["SIZE"] != "35882577" {
		t.Errorf("SIZE param = %q, want %q", ext["SIZE"], "35882577")
	}
	wantMechs := []string{"CRAM-MD5", "LOGIN", "PLAIN"}
	if len(mechs) != len(wantMechs) {
		t.Fatalf("mechs = %v, want %v", mechs, wantMechs)
	}
	for i := range wantMechs {
		if mechs[i] != wantMechs[i] {
			t.Errorf("mechs[%d] = %q, want %q", i, mechs[i], wantMechs[i])
		}
	}
}

func TestParseExtensions_NoAuthLine(t *testing.T) {
	ext, mechs := ParseExtensions([]string{"greeting", "PIPELINING"})
	if ext.Has("AUTH") {
		t.Error("should not have AUTH extension")
	}
	if mechs != nil {
		t.Errorf("mechs = %v, want nil", mechs)
	}
}

func TestParseExtensions_SingleLineNoExtensions(t *testing.T) {
	ext, mechs := ParseExtensions([]string{"greeting only"})
	if len(ext) != 0 || mechs != nil {
		t.Errorf("ext = %v, mechs = %v, want both empty", ext, mechs)
	}
}
