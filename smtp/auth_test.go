package smtp

import (
	"encoding/hex"
	"testing"
)

func TestPlainAuth(t *testing.T) {
	a := PlainAuth("user", "pass")
	mech, resp, err := a.Start(&ServerInfo{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if mech != "PLAIN" {
		t.Errorf("mechanism = %q, want PLAIN", mech)
	}
	want := "\x00user\x00pass"
	if string(resp) != want {
		t.Errorf("initial response = %q, want %q", resp, want)
	}
	if _, err := a.Next([]byte("unexpected"), true); err == nil {
		t.Error("expected error on unexpected further challenge")
	}
}

func TestLoginAuth(t *testing.T) {
	a := LoginAuth("user", "pass")
	mech, resp, err := a.Start(&ServerInfo{})
	if err != nil || mech != "LOGIN" || resp != nil {
		t.Fatalf("Start() = %q, %v, %v", mech, resp, err)
	}
	u, err := a.Next([]byte("Username:"), true)
	if err != nil || string(u) != "user" {
		t.Fatalf("Next(Username:) = %q, %v", u, err)
	}
	p, err := a.Next([]byte("Password:"), true)
	if err != nil || string(p) != "pass" {
		t.Fatalf("Next(Password:) = %q, %v", p, err)
	}
}

func TestCramMD5Auth_KnownVector(t *testing.T) {
	a := CramMD5Auth("tim", "tanstaaftanstaaf")
	challenge := []byte("<1896.697170952@postoffice.reston.mci.net>")
	resp, err := a.Next(challenge, true)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := "tim b913a602c7eda7a495b4e6e7334d3890"
	if string(resp) != want {
		t.Errorf("response = %q, want %q", resp, want)
	}
}

func TestCramMD5Auth_EmptyPasswordSkipsPreHash(t *testing.T) {
	a := CramMD5Auth("user", "")
	digest := hmacMD5(cramMD5Key(""), []byte("challenge"))
	want := "user " + hex.EncodeToString(digest)
	resp, err := a.Next([]byte("challenge"), true)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(resp) != want {
		t.Errorf("response = %q, want %q", resp, want)
	}
	if len(cramMD5Key("")) != 0 {
		t.Errorf("cramMD5Key(\"\") should remain empty (no pre-hash), got %d bytes", len(cramMD5Key("")))
	}
}

func TestCramMD5Auth_LongKeyIsPreHashed(t *testing.T) {
	longPassword := make([]byte, 100)
	for i := range longPassword {
		longPassword[i] = 'a'
	}
	key := cramMD5Key(string(longPassword))
	if len(key) != 16 {
		t.Errorf("pre-hashed key length = %d, want 16 (MD5 digest size)", len(key))
	}
}
