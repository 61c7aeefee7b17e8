// Package identity owns the local installation's long-term curve25519
// key pair: generation, passphrase sealing/unsealing, chat-key encoding,
// and the optional BIP-39 recovery phrase layered on top of the sealed
// secret.
package identity

import (
	"errors"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/curve25519"

	appcrypto "github.com/atharhussain12/sturdy-couscous-chat/internal/crypto"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/encoding"
	"github.com/atharhussain12/sturdy-couscous-chat/internal/storage"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

var (
	ErrAlreadyUnlocked = errors.New("identity: already unlocked")
	ErrNotUnlocked     = errors.New("identity: not unlocked")
	ErrNoIdentity      = errors.New("identity: no identity has been created")
)

// maxErrorLogEntries bounds the in-memory error log (locked-identity
// refusals and absorbed engine failures); only the most recent entries
// are kept.
const maxErrorLogEntries = 5

// Manager owns identity creation/unlock. Exactly one Identity exists per
// installation; the unsealed secret key lives only in Manager's memory
// once unlocked, never in the persisted record.
type Manager struct {
	mu        sync.RWMutex
	store     *storage.IdentityStore
	identity  *models.Identity
	secretKey []byte
	errorLog  []string
}

func NewManager(store *storage.IdentityStore) *Manager {
	m := &Manager{store: store}
	all := store.GetAll()
	if len(all) > 0 {
		id := all[0]
		m.identity = &id
	}
	return m
}

// CreateIdentity generates a fresh curve25519 key pair, seals the secret
// key under passphrase, persists the Identity record, and returns the
// chat-key plus a BIP-39 recovery phrase encoding the raw secret key.
func (m *Manager) CreateIdentity(passphrase string) (chatKey, mnemonic string, err error) {
	pub, sec, err := appcrypto.GenerateIdentityKeyPair()
	if err != nil {
		return "", "", err
	}
	return m.createFromSecret(pub, sec, passphrase)
}

// ImportFromMnemonic recovers the secret key from a BIP-39 recovery
// phrase, re-derives the matching public key, and seals it under a
// (possibly new) passphrase, replacing any existing local identity.
func (m *Manager) ImportFromMnemonic(mnemonic, passphrase string) (chatKey string, err error) {
	sec, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return "", err
	}
	if len(sec) != 32 {
		return "", errors.New("identity: recovery phrase does not encode a 32-byte key")
	}
	pub, err := curve25519.X25519(sec, curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	chatKey, _, err = m.createFromSecret(pub, sec, passphrase)
	return chatKey, err
}

func (m *Manager) createFromSecret(pub, sec []byte, passphrase string) (chatKey, mnemonic string, err error) {
	seal, err := appcrypto.EncryptWithPassphrase(sec, passphrase)
	if err != nil {
		return "", "", err
	}
	record := models.Identity{
		PublicKey: append([]byte(nil), pub...),
		SecretSeal: models.SealedSecret{
			Ciphertext: seal.Ciphertext,
			IV:         seal.IV,
			Salt:       seal.Salt,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Put(record); err != nil {
		return "", "", err
	}
	mnemonic, err = bip39.NewMnemonic(sec)
	if err != nil {
		return "", "", err
	}

	m.mu.Lock()
	m.identity = &record
	m.secretKey = append([]byte(nil), sec...)
	m.mu.Unlock()

	return encoding.ChatKeyEncode(pub), mnemonic, nil
}

// Unlock decrypts the sealed secret key under passphrase and holds it in
// memory for subsequent session operations. Returns
// appcrypto.ErrBadPassphrase on a wrong passphrase.
func (m *Manager) Unlock(passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return ErrNoIdentity
	}
	sec, err := appcrypto.DecryptWithPassphrase(appcrypto.SealedBlob{
		Ciphertext: m.identity.SecretSeal.Ciphertext,
		IV:         m.identity.SecretSeal.IV,
		Salt:       m.identity.SecretSeal.Salt,
	}, passphrase)
	if err != nil {
		return err
	}
	m.secretKey = sec
	return nil
}

// Lock drops the in-memory secret key. Inbound/outbound processing
// becomes a no-op until Unlock succeeds again.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.secretKey {
		m.secretKey[i] = 0
	}
	m.secretKey = nil
}

func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secretKey != nil
}

// PublicKey, ChatKey, and SecretKey expose the identity's key material.
// SecretKey returns ErrNotUnlocked while locked; callers treat a locked
// identity as "inbound processing is a no-op".
func (m *Manager) PublicKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil, ErrNoIdentity
	}
	return append([]byte(nil), m.identity.PublicKey...), nil
}

func (m *Manager) ChatKey() (string, error) {
	pub, err := m.PublicKey()
	if err != nil {
		return "", err
	}
	return encoding.ChatKeyEncode(pub), nil
}

func (m *Manager) SecretKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.secretKey == nil {
		return nil, ErrNotUnlocked
	}
	return append([]byte(nil), m.secretKey...), nil
}

// LogError appends a message to the bounded error log, trimming the
// oldest entry once more than maxErrorLogEntries accumulate.
func (m *Manager) LogError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorLog = append(m.errorLog, msg)
	if len(m.errorLog) > maxErrorLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxErrorLogEntries:]
	}
}

func (m *Manager) ErrorLog() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.errorLog...)
}
