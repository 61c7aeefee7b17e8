// Package topic derives the deterministic content-topic names and
// conversation identifiers the rest of the engine keys its state by. Every
// function here is pure: same bytes in, same string out, so two peers
// independently compute the same topic without negotiation.
package topic

import (
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	inboxPrefix = "/app/1/inbox/"
	dmPrefix    = "/app/1/dm/"
	groupPrefix = "/app/1/group/"
)

func keccak256Hex(b []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return hexLower(h.Sum(nil))
}

const hexDigits = "0123456789abcdef"

func hexLower(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// sortPair returns a, b reordered so the lexicographically smaller chat-key
// comes first, making every derivation below symmetric under swap.
func sortPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}

// ConversationID returns the DM conversation id for two chat-keys. Stable
// under argument order.
func ConversationID(chatKeyA, chatKeyB string) string {
	lo, hi := sortPair(chatKeyA, chatKeyB)
	return keccak256Hex([]byte(lo + ":" + hi))
}

// GroupSessionID returns the pairwise ratchet session id shared by two
// members of the same group. Stable under argument order.
func GroupSessionID(groupID, chatKeyA, chatKeyB string) string {
	lo, hi := sortPair(chatKeyA, chatKeyB)
	return keccak256Hex([]byte(groupID + ":" + lo + ":" + hi))
}

// InboxTopic returns the per-identity topic used for out-of-session
// traffic. It hashes the raw public-key bytes, not the chat-key string.
func InboxTopic(publicKey []byte) string {
	return inboxPrefix + keccak256Hex(publicKey)
}

// DMTopic returns the content topic for a DM conversation.
func DMTopic(conversationID string) string {
	return dmPrefix + conversationID
}

// GroupTopic returns the content topic for a group conversation.
func GroupTopic(groupID string) string {
	return groupPrefix + groupID
}

// IsInboxTopic reports whether topic looks like an inbox topic, useful for
// transport-level routing/logging without string literals scattered
// through the engine.
func IsInboxTopic(t string) bool {
	return strings.HasPrefix(t, inboxPrefix)
}
