// Package crypto implements the primitive operations the session and
// backup layers build on: CSPRNG, a passphrase-sealed AEAD envelope,
// HKDF/HMAC over SHA-256, and the curve25519 box/secretbox pair used for
// out-of-session and in-session sealing respectively.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2 iteration count for passphrase key derivation.
	passphraseKDFIterations = 120000
	passphraseKeyLen        = 32
	gcmIVLen                = 12
	passphraseSaltLen       = 16
)

var (
	// ErrBadPassphrase is returned when an AEAD tag fails to verify under
	// a passphrase-derived key. Never surfaced to peers.
	ErrBadPassphrase = errors.New("crypto: bad passphrase")
	// ErrDecryptFail is returned by the session-level AEAD primitives
	// (box/secretbox) on tag mismatch.
	ErrDecryptFail = errors.New("crypto: decrypt failed")
)

// SealedBlob is the output of encryptWithPassphrase: an AES-256-GCM
// ciphertext plus the IV and salt needed to reproduce the derived key.
type SealedBlob struct {
	Ciphertext []byte
	IV         []byte
	Salt       []byte
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// EncryptWithPassphrase derives a 256-bit key via PBKDF2-SHA256 (120000
// iterations) over a fresh 16-byte salt, then seals plaintext with
// AES-256-GCM under a fresh 12-byte IV.
func EncryptWithPassphrase(plaintext []byte, passphrase string) (SealedBlob, error) {
	salt, err := RandomBytes(passphraseSaltLen)
	if err != nil {
		return SealedBlob{}, err
	}
	iv, err := RandomBytes(gcmIVLen)
	if err != nil {
		return SealedBlob{}, err
	}
	key := derivePassphraseKey(passphrase, salt)
	aead, err := newGCM(key)
	if err != nil {
		return SealedBlob{}, err
	}
	ciphertext := aead.Seal(nil, iv, plaintext, nil)
	return SealedBlob{Ciphertext: ciphertext, IV: iv, Salt: salt}, nil
}

// DecryptWithPassphrase is the inverse of EncryptWithPassphrase. It
// returns ErrBadPassphrase on tag mismatch, never a lower-level AEAD
// error, so callers can treat it as a single user-facing case.
func DecryptWithPassphrase(blob SealedBlob, passphrase string) ([]byte, error) {
	key := derivePassphraseKey(passphrase, blob.Salt)
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, blob.IV, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}

func derivePassphraseKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, passphraseKDFIterations, passphraseKeyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// HKDF derives len bytes of key material from ikm under salt/info using
// HKDF-SHA256.
func HKDF(ikm, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HMACSHA256 returns the 32-byte HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// GenerateIdentityKeyPair returns a fresh curve25519 public/secret pair for
// a new local identity.
func GenerateIdentityKeyPair() (pub, sec []byte, err error) {
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return p[:], s[:], nil
}

// X25519 computes the raw curve25519 Diffie-Hellman shared secret used to
// seed the ratchet.
func X25519(mySecret, peerPublic []byte) ([]byte, error) {
	return curve25519.X25519(mySecret, peerPublic)
}

// Box seals msg for peerPub using mySec under the given 24-byte nonce
// (curve25519-xsalsa20-poly1305), for out-of-session sealed envelopes
// (chat requests, group invites).
func Box(msg, nonce, peerPub, mySec []byte) ([]byte, error) {
	var n [24]byte
	var pub, sec [32]byte
	if len(nonce) != 24 || len(peerPub) != 32 || len(mySec) != 32 {
		return nil, errors.New("crypto: invalid box argument length")
	}
	copy(n[:], nonce)
	copy(pub[:], peerPub)
	copy(sec[:], mySec)
	return box.Seal(nil, msg, &n, &pub, &sec), nil
}

// BoxOpen is the inverse of Box.
func BoxOpen(ciphertext, nonce, peerPub, mySec []byte) ([]byte, error) {
	var n [24]byte
	var pub, sec [32]byte
	if len(nonce) != 24 || len(peerPub) != 32 || len(mySec) != 32 {
		return nil, errors.New("crypto: invalid box argument length")
	}
	copy(n[:], nonce)
	copy(pub[:], peerPub)
	copy(sec[:], mySec)
	out, ok := box.Open(nil, ciphertext, &n, &pub, &sec)
	if !ok {
		return nil, ErrDecryptFail
	}
	return out, nil
}

// Secretbox seals msg under a shared symmetric key and 24-byte nonce
// (xsalsa20-poly1305), used for every in-session envelope.
func Secretbox(msg, nonce, key []byte) ([]byte, error) {
	var n [24]byte
	var k [32]byte
	if len(nonce) != 24 || len(key) != 32 {
		return nil, errors.New("crypto: invalid secretbox argument length")
	}
	copy(n[:], nonce)
	copy(k[:], key)
	return secretbox.Seal(nil, msg, &n, &k), nil
}

// SecretboxOpen is the inverse of Secretbox.
func SecretboxOpen(ciphertext, nonce, key []byte) ([]byte, error) {
	var n [24]byte
	var k [32]byte
	if len(nonce) != 24 || len(key) != 32 {
		return nil, errors.New("crypto: invalid secretbox argument length")
	}
	copy(n[:], nonce)
	copy(k[:], key)
	out, ok := secretbox.Open(nil, ciphertext, &n, &k)
	if !ok {
		return nil, ErrDecryptFail
	}
	return out, nil
}
