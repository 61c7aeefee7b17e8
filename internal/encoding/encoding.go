// Package encoding centralizes the byte/text conversions the wire envelope
// and chat-key formats rely on: base64 for binary envelope fields, base58
// for the human-shareable chat-key, and UTF-8 validation for passphrases
// and message bodies.
package encoding

import (
	"encoding/base64"
	"errors"
	"unicode/utf8"

	"github.com/mr-tron/base58/base58"
)

var ErrInvalidUTF8 = errors.New("encoding: input is not valid utf-8")

// B64Encode/B64Decode handle the base64 binary fields of the wire envelope
// (nonces, ciphertexts, keys). Standard padded encoding.
func B64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func B64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ChatKeyEncode/ChatKeyDecode are the sole normative encoding for a
// curve25519 public key as a human-shareable chat-key.
func ChatKeyEncode(pub []byte) string {
	return base58.Encode(pub)
}

func ChatKeyDecode(chatKey string) ([]byte, error) {
	return base58.Decode(chatKey)
}

// ToUTF8 validates that b decodes as UTF-8 and returns it as a string,
// rejecting malformed byte sequences up front rather than letting them
// propagate into JSON or hashing as silently-mangled text.
func ToUTF8(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
