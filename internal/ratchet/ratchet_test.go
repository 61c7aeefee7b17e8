package ratchet

import (
	"bytes"
	"testing"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
)

func seedPair(t *testing.T, cid string) (a, b *Session) {
	t.Helper()
	aPub, aSec, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	bPub, bSec, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	a, err = Seed(cid, KindDM, aSec, aPub, bPub, "bChatKey")
	if err != nil {
		t.Fatalf("seed a: %v", err)
	}
	b, err = Seed(cid, KindDM, bSec, bPub, aPub, "aChatKey")
	if err != nil {
		t.Fatalf("seed b: %v", err)
	}
	return a, b
}

func TestSeedMirroring(t *testing.T) {
	a, b := seedPair(t, "cid1")
	if !bytes.Equal(a.SendCK, b.RecvCK) {
		t.Fatal("A.sendCK must equal B.recvCK")
	}
	if !bytes.Equal(a.RecvCK, b.SendCK) {
		t.Fatal("A.recvCK must equal B.sendCK")
	}
}

func TestAdvanceSendIncrementsCounterAndChangesChainKey(t *testing.T) {
	a, _ := seedPair(t, "cid2")
	originalCK := append([]byte(nil), a.SendCK...)
	for k := uint64(0); k < 5; k++ {
		_, wireN := a.AdvanceSend()
		if wireN != k {
			t.Fatalf("expected wire counter %d, got %d", k, wireN)
		}
	}
	if a.SendN != 5 {
		t.Fatalf("expected sendN == 5, got %d", a.SendN)
	}
	if bytes.Equal(originalCK, a.SendCK) {
		t.Fatal("send chain key must advance")
	}
}

func TestInOrderDeliveryDecrypts(t *testing.T) {
	a, b := seedPair(t, "cid3")
	for i := 0; i < 4; i++ {
		mk, n := a.AdvanceSend()
		recvKey, ok := b.DeriveReceive(n)
		if !ok {
			t.Fatalf("expected to decrypt index %d", n)
		}
		if !bytes.Equal(mk, recvKey) {
			t.Fatalf("message key mismatch at index %d", n)
		}
	}
	if b.RecvN != 4 {
		t.Fatalf("expected recvN == 4, got %d", b.RecvN)
	}
	if len(b.SkippedKeys) != 0 {
		t.Fatalf("expected no skipped keys after in-order delivery, got %d", len(b.SkippedKeys))
	}
}

func TestOutOfOrderWithinWindowAllDecrypt(t *testing.T) {
	a, b := seedPair(t, "cid4")
	keys := make(map[uint64][]byte)
	var ns []uint64
	for i := 0; i < 4; i++ {
		mk, n := a.AdvanceSend()
		keys[n] = mk
		ns = append(ns, n)
	}
	order := []int{2, 0, 3, 1}
	for _, idx := range order {
		n := ns[idx]
		got, ok := b.DeriveReceive(n)
		if !ok {
			t.Fatalf("expected to decrypt index %d", n)
		}
		if !bytes.Equal(got, keys[n]) {
			t.Fatalf("message key mismatch at index %d", n)
		}
	}
	if b.RecvN != 4 {
		t.Fatalf("expected recvN == 4 after all four arrive, got %d", b.RecvN)
	}
	if len(b.SkippedKeys) != 0 {
		t.Fatalf("expected skipped cache empty once all messages consumed, got %d", len(b.SkippedKeys))
	}
}

func TestBeyondWindowEarliestIndicesAreUnrecoverable(t *testing.T) {
	a, b := seedPair(t, "cid5")
	var ns []uint64
	for i := 0; i < 60; i++ {
		_, n := a.AdvanceSend()
		ns = append(ns, n)
	}
	// B receives #59 first: derives 0..59, caches the newest 50 (9..58).
	if _, ok := b.DeriveReceive(ns[59]); !ok {
		t.Fatal("expected to decrypt index 59")
	}
	if len(b.SkippedKeys) != MaxSkipped {
		t.Fatalf("expected skipped cache at cap %d, got %d", MaxSkipped, len(b.SkippedKeys))
	}
	for i := 0; i < 9; i++ {
		if _, ok := b.DeriveReceive(ns[i]); ok {
			t.Fatalf("expected index %d to be unrecoverable (evicted)", i)
		}
	}
	for i := 9; i < 59; i++ {
		if _, ok := b.DeriveReceive(ns[i]); !ok {
			t.Fatalf("expected index %d to still be recoverable from skipped cache", i)
		}
	}
}

func TestSkippedCacheNeverExceedsCapAndStaysBelowRecvN(t *testing.T) {
	a, b := seedPair(t, "cid6")
	var ns []uint64
	for i := 0; i < 200; i++ {
		_, n := a.AdvanceSend()
		ns = append(ns, n)
	}
	if _, ok := b.DeriveReceive(ns[199]); !ok {
		t.Fatal("expected to decrypt index 199")
	}
	if len(b.SkippedKeys) > MaxSkipped {
		t.Fatalf("skipped cache exceeded cap: %d > %d", len(b.SkippedKeys), MaxSkipped)
	}
	for idx := range b.SkippedKeys {
		if idx >= b.RecvN {
			t.Fatalf("skipped index %d must be below recvN %d", idx, b.RecvN)
		}
	}
}

func TestResetZeroesCountersAndCache(t *testing.T) {
	a, b := seedPair(t, "cid7")
	for i := 0; i < 3; i++ {
		a.AdvanceSend()
	}
	_, _ = b.DeriveReceive(5)
	if len(b.SkippedKeys) == 0 {
		t.Fatal("expected skipped cache to be populated before reset")
	}

	aPub, aSec, _ := crypto.GenerateIdentityKeyPair()
	bPub, _, _ := crypto.GenerateIdentityKeyPair()
	if err := b.Reset(aSec, aPub, bPub); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if b.SendN != 0 || b.RecvN != 0 {
		t.Fatalf("expected counters reset to zero, got sendN=%d recvN=%d", b.SendN, b.RecvN)
	}
	if len(b.SkippedKeys) != 0 {
		t.Fatal("expected skipped cache cleared after reset")
	}
}
