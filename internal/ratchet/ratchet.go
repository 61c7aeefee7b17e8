// Package ratchet implements a symmetric-only sending/receiving chain: a
// one-time DH seed splits into a send chain and a receive chain, each
// advanced independently by HMAC-SHA256, with a bounded skipped-key cache
// absorbing out-of-order arrivals.
//
// The ratchet never performs a fresh DH exchange per message: only the
// symmetric sending chain advances, so there is no post-compromise
// security, only forward secrecy.
package ratchet

import (
	"errors"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
)

// MaxSkipped bounds the skipped-key cache per session.
const MaxSkipped = 50

// maxForwardGap bounds how far ahead of RecvN a single inbound counter may
// jump before DeriveReceive refuses to derive, preventing an adversarial
// huge counter from forcing unbounded HMAC work.
const maxForwardGap = 100000

var (
	ErrChainIndexTooOld = errors.New("ratchet: chain index is before the receive window and has no cached key")
	ErrSessionKind      = errors.New("ratchet: unsupported session kind")
)

type Kind string

const (
	KindDM    Kind = "dm"
	KindGroup Kind = "group"
)

// Session is the mutable per-conversation, per-peer ratchet state.
// SkippedKeys holds receive-side message keys derived ahead of
// consumption, keyed by the chain index they correspond to.
type Session struct {
	ConversationID string
	Kind           Kind
	PeerPubKey     string
	SendCK         []byte
	RecvCK         []byte
	SendN          uint64
	RecvN          uint64
	SkippedKeys    map[uint64][]byte
}

// Seed derives a fresh Session from the DH shared secret between the
// local secret key and the peer's public key. myPub/peerPub are raw
// 32-byte curve25519 public keys; myPub is used only to decide which
// mirrored chain is "send" vs "recv".
func Seed(conversationID string, kind Kind, mySecret, myPub, peerPub []byte, peerPubKeyChatKey string) (*Session, error) {
	shared, err := crypto.X25519(mySecret, peerPub)
	if err != nil {
		return nil, err
	}
	rootKey, err := crypto.HKDF(shared, []byte(conversationID), []byte("root"), 32)
	if err != nil {
		return nil, err
	}
	sendCK := crypto.HMACSHA256(rootKey, []byte("send:"+string(myPub)))
	recvCK := crypto.HMACSHA256(rootKey, []byte("send:"+string(peerPub)))
	return &Session{
		ConversationID: conversationID,
		Kind:           kind,
		PeerPubKey:     peerPubKeyChatKey,
		SendCK:         sendCK,
		RecvCK:         recvCK,
		SendN:          0,
		RecvN:          0,
		SkippedKeys:    make(map[uint64][]byte),
	}, nil
}

// AdvanceSend derives the next send-side message key and mutates the
// session in place: sendCK' = HMAC(sendCK, "ck"), sendN' = sendN+1. The
// wire counter for the message being produced is sendN *before* this
// call: the sender reports the index of the just-consumed key, not the
// next one.
func (s *Session) AdvanceSend() (messageKey []byte, wireN uint64) {
	mk := crypto.HMACSHA256(s.SendCK, []byte("msg"))
	wireN = s.SendN
	s.SendCK = crypto.HMACSHA256(s.SendCK, []byte("ck"))
	s.SendN++
	return mk, wireN
}

// DeriveReceive returns the message key for chain index n, advancing or
// consulting the skipped-key cache as needed. ok is false when n is
// behind the receive window and no skipped entry remains, or when n is
// more than maxForwardGap ahead of RecvN; no key is derived in either
// case.
func (s *Session) DeriveReceive(n uint64) (messageKey []byte, ok bool) {
	// Sessions travel by value through the persistence layer; clone the
	// cache before mutating so a derivation that is never committed can't
	// leak skipped entries into a stored copy sharing the same map.
	clone := make(map[uint64][]byte, len(s.SkippedKeys))
	for idx, key := range s.SkippedKeys {
		clone[idx] = key
	}
	s.SkippedKeys = clone
	if n < s.RecvN {
		mk, found := s.SkippedKeys[n]
		if !found {
			return nil, false
		}
		delete(s.SkippedKeys, n)
		return mk, true
	}

	if n-s.RecvN > maxForwardGap {
		return nil, false
	}

	chainKey := s.RecvCK
	var mk []byte
	for i := s.RecvN; i <= n; i++ {
		stepMK := crypto.HMACSHA256(chainKey, []byte("msg"))
		if i < n {
			s.storeSkipped(i, stepMK)
		} else {
			mk = stepMK
		}
		chainKey = crypto.HMACSHA256(chainKey, []byte("ck"))
	}
	s.RecvCK = chainKey
	s.RecvN = n + 1
	s.trimSkipped()
	return mk, true
}

func (s *Session) storeSkipped(index uint64, key []byte) {
	s.SkippedKeys[index] = key
}

// trimSkipped drops the smallest-index entries until the cache is back
// under MaxSkipped. Eviction is strictly newer-biased: both peers must
// agree on which indices stay recoverable, and the newest window is the
// useful one.
func (s *Session) trimSkipped() {
	for len(s.SkippedKeys) > MaxSkipped {
		var minIdx uint64
		first := true
		for idx := range s.SkippedKeys {
			if first || idx < minIdx {
				minIdx = idx
				first = false
			}
		}
		if first {
			return
		}
		delete(s.SkippedKeys, minIdx)
	}
}

// Reset rebuilds the session deterministically from the same DH seed
// procedure, zeroing counters and the skipped cache.
func (s *Session) Reset(mySecret, myPub, peerPub []byte) error {
	fresh, err := Seed(s.ConversationID, s.Kind, mySecret, myPub, peerPub, s.PeerPubKey)
	if err != nil {
		return err
	}
	s.SendCK = fresh.SendCK
	s.RecvCK = fresh.RecvCK
	s.SendN = 0
	s.RecvN = 0
	s.SkippedKeys = make(map[uint64][]byte)
	return nil
}
