package backup

import (
	"testing"
	"time"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/ratchet"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/storage"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

func seedStores(t *testing.T) *storage.Stores {
	t.Helper()
	stores := storage.NewInMemoryStores()
	if err := stores.Identity.Put(models.Identity{PublicKey: []byte("pub-a"), CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	if err := stores.Chats.Put(models.Chat{ID: "cid-1", Kind: models.ChatKindDM, Accepted: true}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if err := stores.Chats.Put(models.Chat{ID: "cid-2", Kind: models.ChatKindDM, Accepted: true}); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if err := stores.Sessions.Put(ratchet.Session{ConversationID: "cid-1", PeerPubKey: "peer-a", SendCK: []byte("sk"), RecvCK: []byte("rk")}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := stores.Peers.Put(models.Peer{ChatKey: "peer-a", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed peer: %v", err)
	}
	if err := stores.RequestStates.Put(models.RequestState{PeerPubKey: "peer-a", Status: models.RequestStatusAccepted}); err != nil {
		t.Fatalf("seed request state: %v", err)
	}
	for i := 0; i < 10; i++ {
		msg := models.Message{ID: string(rune('a' + i)), ChatID: "cid-1", Type: models.MessageTypeText, Body: "hello"}
		if err := stores.Messages.Put(msg); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	return stores
}

func TestExportRestoreRoundTrip(t *testing.T) {
	original := seedStores(t)
	blob, err := Export(original, "pw")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	restored := storage.NewInMemoryStores()
	if err := Restore(restored, blob, "pw"); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(restored.Identity.GetAll()) != len(original.Identity.GetAll()) {
		t.Fatalf("identity count mismatch: got %d want %d", len(restored.Identity.GetAll()), len(original.Identity.GetAll()))
	}
	if len(restored.Chats.GetAll()) != 2 {
		t.Fatalf("chat count: got %d want 2", len(restored.Chats.GetAll()))
	}
	if len(restored.Messages.GetAll()) != 10 {
		t.Fatalf("message count: got %d want 10", len(restored.Messages.GetAll()))
	}
	if _, ok := restored.Sessions.Get(storage.SessionKey("cid-1", "peer-a")); !ok {
		t.Fatalf("expected session cid-1|peer-a to survive restore")
	}
	if _, ok := restored.Peers.Get("peer-a"); !ok {
		t.Fatal("expected peer record to survive restore")
	}
	if state, ok := restored.RequestStates.Get("peer-a"); !ok || state.Status != models.RequestStatusAccepted {
		t.Fatalf("expected request state to survive restore, got %+v ok=%v", state, ok)
	}
}

func TestRestoreBadPassphraseLeavesCurrentStateUntouched(t *testing.T) {
	original := seedStores(t)
	blob, err := Export(original, "pw")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	target := seedStores(t)
	before := len(target.Messages.GetAll())

	err = Restore(target, blob, "wrong")
	if err != crypto.ErrBadPassphrase {
		t.Fatalf("Restore with wrong passphrase: got %v want ErrBadPassphrase", err)
	}
	if len(target.Messages.GetAll()) != before {
		t.Fatalf("target store was mutated despite bad passphrase: got %d want %d", len(target.Messages.GetAll()), before)
	}
}

func TestExportIsDeterministicallyRestorableTwice(t *testing.T) {
	original := seedStores(t)
	blob, err := Export(original, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	for i := 0; i < 2; i++ {
		restored := storage.NewInMemoryStores()
		if err := Restore(restored, blob, "correct horse battery staple"); err != nil {
			t.Fatalf("Restore attempt %d: %v", i, err)
		}
		if len(restored.Messages.GetAll()) != 10 {
			t.Fatalf("attempt %d: message count got %d want 10", i, len(restored.Messages.GetAll()))
		}
	}
}
