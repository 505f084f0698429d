//go:build !integration

package security

import (
	"errors"
	"testing"
)

func TestTextCipher(t *testing.T) {
	keys := map[string]string{
		"aes-256":    "0123456789abcdef0123456789abcdef",
		"passphrase": "correct horse battery staple",
	}
	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			c, err := NewTextCipher(key)
			if err != nil {
				t.Fatalf("new cipher: %v", err)
			}
			a, err := c.Seal("hello there")
			if err != nil {
				t.Fatalf("seal: %v", err)
			}
			b, _ := c.Seal("hello there")
			if a == b {
				t.Error("expected a fresh nonce per seal")
			}
			got, err := c.Open(a)
			if err != nil || got != "hello there" {
				t.Fatalf("open: got %q err=%v", got, err)
			}
		})
	}
}

func TestTextCipherRejectsForeignText(t *testing.T) {
	c, _ := NewTextCipher("first key")
	other, _ := NewTextCipher("second key")
	sealed, _ := c.Seal("secret")

	for _, in := range []string{sealed, "not base64!", "AAAA"} {
		if _, err := other.Open(in); !errors.Is(err, ErrCiphertext) {
			t.Errorf("Open(%q): expected ErrCiphertext, got %v", in, err)
		}
	}
	if _, err := NewTextCipher(""); err == nil {
		t.Error("expected an empty key to be rejected")
	}
}
