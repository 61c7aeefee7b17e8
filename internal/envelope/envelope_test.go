package envelope

import (
	"testing"
)

func n(v uint64) *uint64 { return &v }

func sampleEnvelopes() []Envelope {
	return []Envelope{
		{
			Type: TypeChatRequest, Timestamp: 1000,
			RequestID: "req1", FromPubKey: "A", ToPubKey: "B",
			Nonce: []byte("123456789012345678901234"), Ciphertext: []byte("ct"),
		},
		{Type: TypeChatAccept, Timestamp: 1001, RequestID: "req1", FromPubKey: "B", ToPubKey: "A", ConversationID: "cid1"},
		{Type: TypeChatDeclined, Timestamp: 1002, RequestID: "req1", FromPubKey: "B", ToPubKey: "A", ConversationID: "cid1"},
		{Type: TypeChatBlocked, Timestamp: 1003, RequestID: "req1", FromPubKey: "B", ToPubKey: "A", ConversationID: "cid1"},
		{
			Type: TypeGroupInvite, Timestamp: 1004, FromPubKey: "A", ToPubKey: "B",
			Nonce: []byte("123456789012345678901234"), Ciphertext: []byte("ct"),
		},
		{Type: TypeGroupAccepted, Timestamp: 1005, RequestID: "g1:A", GroupID: "g1", FromPubKey: "B", ToPubKey: "A"},
		{Type: TypeGroupDeclined, Timestamp: 1006, RequestID: "g1:A", GroupID: "g1", FromPubKey: "B", ToPubKey: "A"},
		{Type: TypeGroupBlocked, Timestamp: 1007, RequestID: "g1:A", GroupID: "g1", FromPubKey: "B", ToPubKey: "A"},
		{
			Type: TypeDMMessage, Timestamp: 1008, ConversationID: "cid1", MessageID: "m1", FromPubKey: "A",
			N: n(0), Nonce: []byte("123456789012345678901234"), Ciphertext: []byte("ct"),
		},
		{Type: TypeDMAck, Timestamp: 1009, ConversationID: "cid1", MessageID: "m1", FromPubKey: "B", ToPubKey: "A"},
		{
			Type: TypeGroupMessage, Timestamp: 1010, GroupID: "g1", MessageID: "m1", FromPubKey: "A",
			Sealed: []SealedEntry{
				{ToPubKey: "B", N: 0, Nonce: []byte("123456789012345678901234"), Ciphertext: []byte("ct")},
				{ToPubKey: "C", N: 0, Nonce: []byte("123456789012345678901234"), Ciphertext: []byte("ct")},
			},
		},
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	for _, want := range sampleEnvelopes() {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %s: %v", want.Type, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", want.Type, err)
		}
		want.V = Version
		if !envelopesEqual(want, got) {
			t.Fatalf("roundtrip mismatch for %s:\n want %+v\n got  %+v", want.Type, want, got)
		}
	}
}

func envelopesEqual(a, b Envelope) bool {
	if a.V != b.V || a.Type != b.Type || a.Timestamp != b.Timestamp {
		return false
	}
	if a.RequestID != b.RequestID || a.FromPubKey != b.FromPubKey || a.ToPubKey != b.ToPubKey {
		return false
	}
	if a.ConversationID != b.ConversationID || a.GroupID != b.GroupID || a.MessageID != b.MessageID {
		return false
	}
	if string(a.Nonce) != string(b.Nonce) || string(a.Ciphertext) != string(b.Ciphertext) {
		return false
	}
	if (a.N == nil) != (b.N == nil) || (a.N != nil && *a.N != *b.N) {
		return false
	}
	if len(a.Sealed) != len(b.Sealed) {
		return false
	}
	for i := range a.Sealed {
		if a.Sealed[i].ToPubKey != b.Sealed[i].ToPubKey || a.Sealed[i].N != b.Sealed[i].N ||
			string(a.Sealed[i].Nonce) != string(b.Sealed[i].Nonce) || string(a.Sealed[i].Ciphertext) != string(b.Sealed[i].Ciphertext) {
			return false
		}
	}
	return true
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err != ErrBadInput {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"v":1}`)); err != ErrBadInput {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"v":1,"type":"unknown_type"}`)); err != ErrBadInput {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	raw := []byte(`{"v":2,"type":"dm_ack","conversationId":"c","messageId":"m","fromPubKey":"A","toPubKey":"B"}`)
	if _, err := Decode(raw); err != ErrBadInput {
		t.Fatalf("expected ErrBadInput, got %v", err)
	}
}

func TestDecodeRejectsMissingRequiredField(t *testing.T) {
	raw := []byte(`{"v":1,"type":"dm_message","conversationId":"c","fromPubKey":"A"}`)
	if _, err := Decode(raw); err != ErrBadInput {
		t.Fatalf("expected ErrBadInput for missing messageId/n/nonce/ciphertext, got %v", err)
	}
}
