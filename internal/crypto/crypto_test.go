package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptDecryptWithPassphraseRoundtrip(t *testing.T) {
	plaintext := []byte("identity secret key bytes")
	blob, err := EncryptWithPassphrase(plaintext, "correct horse")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(blob.IV) != gcmIVLen || len(blob.Salt) != passphraseSaltLen {
		t.Fatalf("unexpected iv/salt length: %d/%d", len(blob.IV), len(blob.Salt))
	}
	got, err := DecryptWithPassphrase(blob, "correct horse")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWithPassphraseWrongPassphraseFails(t *testing.T) {
	blob, err := EncryptWithPassphrase([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := DecryptWithPassphrase(blob, "wrong"); !errors.Is(err, ErrBadPassphrase) {
		t.Fatalf("expected ErrBadPassphrase, got %v", err)
	}
}

func TestBoxRoundtrip(t *testing.T) {
	aPub, aSec, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("gen key pair: %v", err)
	}
	bPub, bSec, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("gen key pair: %v", err)
	}
	nonce, err := RandomBytes(24)
	if err != nil {
		t.Fatalf("random nonce: %v", err)
	}
	sealed, err := Box([]byte("hi there"), nonce, bPub, aSec)
	if err != nil {
		t.Fatalf("box: %v", err)
	}
	opened, err := BoxOpen(sealed, nonce, aPub, bSec)
	if err != nil {
		t.Fatalf("box open: %v", err)
	}
	if string(opened) != "hi there" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}
}

func TestBoxOpenTamperedFails(t *testing.T) {
	aPub, aSec, _ := GenerateIdentityKeyPair()
	bPub, bSec, _ := GenerateIdentityKeyPair()
	nonce, _ := RandomBytes(24)
	sealed, err := Box([]byte("hi there"), nonce, bPub, aSec)
	if err != nil {
		t.Fatalf("box: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := BoxOpen(sealed, nonce, aPub, bSec); !errors.Is(err, ErrDecryptFail) {
		t.Fatalf("expected ErrDecryptFail, got %v", err)
	}
}

func TestSecretboxRoundtrip(t *testing.T) {
	key, _ := RandomBytes(32)
	nonce, _ := RandomBytes(24)
	sealed, err := Secretbox([]byte("message body"), nonce, key)
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}
	opened, err := SecretboxOpen(sealed, nonce, key)
	if err != nil {
		t.Fatalf("secretbox open: %v", err)
	}
	if string(opened) != "message body" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}
}

func TestHKDFDeterministic(t *testing.T) {
	ikm, _ := RandomBytes(32)
	out1, err := HKDF(ikm, []byte("salt"), []byte("info"), 32)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	out2, err := HKDF(ikm, []byte("salt"), []byte("info"), 32)
	if err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatal("hkdf output must be deterministic for identical inputs")
	}
}

func TestHMACSHA256Deterministic(t *testing.T) {
	key := []byte("chain-key")
	a := HMACSHA256(key, []byte("msg"))
	b := HMACSHA256(key, []byte("msg"))
	if !bytes.Equal(a, b) {
		t.Fatal("hmac output must be deterministic for identical inputs")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-byte hmac output, got %d", len(a))
	}
}
