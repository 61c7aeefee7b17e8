// Package backup implements the encrypted local-backup envelope: a
// single passphrase-sealed JSON document holding every persisted record
// across every store, and its inverse restore.
package backup

import (
	"encoding/json"
	"errors"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/ratchet"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/storage"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

// ErrBadVersion is returned by Restore when the decrypted payload's
// version tag does not match what this package produces.
var ErrBadVersion = errors.New("backup: unsupported snapshot version")

const snapshotVersion = 1

// snapshot is the single JSON document every persisted record is
// serialized into before sealing.
type snapshot struct {
	Version       int                   `json:"version"`
	Identity      []models.Identity     `json:"identity"`
	Peers         []models.Peer         `json:"peers"`
	Requests      []models.Request      `json:"requests"`
	RequestStates []models.RequestState `json:"requestStates"`
	Chats         []models.Chat         `json:"chats"`
	Sessions      []ratchet.Session     `json:"sessions"`
	Messages      []models.Message      `json:"messages"`
	Reactions     []models.Reaction     `json:"reactions"`
	Attachments   []models.Attachment   `json:"attachments"`
}

// Envelope is the serialized backup artifact.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
}

// Export serializes every store in stores into one JSON snapshot and
// seals it under passphrase, returning the wire-format envelope text.
func Export(stores *storage.Stores, passphrase string) ([]byte, error) {
	snap := snapshot{
		Version:       snapshotVersion,
		Identity:      stores.Identity.GetAll(),
		Peers:         stores.Peers.GetAll(),
		Requests:      stores.Requests.GetAll(),
		RequestStates: stores.RequestStates.GetAll(),
		Chats:         stores.Chats.GetAll(),
		Sessions:      stores.Sessions.GetAll(),
		Messages:      stores.Messages.GetAll(),
		Reactions:     stores.Reactions.GetAll(),
		Attachments:   stores.Attachments.GetAll(),
	}
	plaintext, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.EncryptWithPassphrase(plaintext, passphrase)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Ciphertext: sealed.Ciphertext, IV: sealed.IV, Salt: sealed.Salt})
}

// Restore decrypts payload under passphrase and replaces every store's
// contents with the decrypted snapshot. On a bad passphrase it returns
// crypto.ErrBadPassphrase and leaves every store untouched: Restore
// decodes and validates the whole payload before calling ReplaceAll on
// any store. Each store's ReplaceAll is atomic on its own, but the stores
// are replaced one after another with no rollback: if a ReplaceAll fails,
// the stores replaced before it keep the restored contents and the rest
// keep their previous contents.
func Restore(stores *storage.Stores, payload []byte, passphrase string) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	plaintext, err := crypto.DecryptWithPassphrase(crypto.SealedBlob{
		Ciphertext: env.Ciphertext,
		IV:         env.IV,
		Salt:       env.Salt,
	}, passphrase)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return err
	}
	if snap.Version != snapshotVersion {
		return ErrBadVersion
	}

	if err := stores.Identity.ReplaceAll(indexBy(snap.Identity, func(i models.Identity) string {
		return string(i.PublicKey)
	})); err != nil {
		return err
	}
	if err := stores.Peers.ReplaceAll(indexBy(snap.Peers, func(p models.Peer) string { return p.ChatKey })); err != nil {
		return err
	}
	if err := stores.Requests.ReplaceAll(indexBy(snap.Requests, func(r models.Request) string { return r.ID })); err != nil {
		return err
	}
	if err := stores.RequestStates.ReplaceAll(indexBy(snap.RequestStates, func(r models.RequestState) string { return r.PeerPubKey })); err != nil {
		return err
	}
	if err := stores.Chats.ReplaceAll(indexBy(snap.Chats, func(c models.Chat) string { return c.ID })); err != nil {
		return err
	}
	if err := stores.Sessions.ReplaceAll(indexBy(snap.Sessions, func(s ratchet.Session) string {
		return storage.SessionKey(s.ConversationID, s.PeerPubKey)
	})); err != nil {
		return err
	}
	if err := stores.Messages.ReplaceAll(indexBy(snap.Messages, func(m models.Message) string { return m.ID })); err != nil {
		return err
	}
	if err := stores.Reactions.ReplaceAll(indexBy(snap.Reactions, func(r models.Reaction) string { return r.ID })); err != nil {
		return err
	}
	if err := stores.Attachments.ReplaceAll(indexBy(snap.Attachments, func(a models.Attachment) string { return a.ID })); err != nil {
		return err
	}
	return nil
}

func indexBy[V any](records []V, keyOf func(V) string) map[string]V {
	out := make(map[string]V, len(records))
	for _, r := range records {
		out[keyOf(r)] = r
	}
	return out
}
