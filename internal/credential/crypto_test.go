package credential

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testMasterKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(testMasterKey())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sealed, err := c.Seal("profile-1", "sk-super-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(sealed, "sk-super-secret") {
		t.Fatalf("ciphertext leaks plaintext")
	}

	opened, err := c.Open("profile-1", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "sk-super-secret" {
		t.Fatalf("roundtrip mismatch: %q", opened)
	}
}

func TestCipherBindsCiphertextToProfile(t *testing.T) {
	c, err := NewCipher(testMasterKey())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	sealed, err := c.Seal("profile-1", "sk-super-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := c.Open("profile-2", sealed); err == nil {
		t.Fatalf("expected open under a different profile to fail")
	}
}

func TestNewCipherRejectsBadKeys(t *testing.T) {
	if _, err := NewCipher("not base64!!"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	if _, err := NewCipher(short); err == nil {
		t.Fatalf("expected error for short master key")
	}
}
