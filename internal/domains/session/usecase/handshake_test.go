package usecase

import (
	"context"
	"testing"

	"github.com/atharhussain12/sturdy-couscous-chat/internal/transport"
	"github.com/atharhussain12/sturdy-couscous-chat/pkg/models"
)

func TestDeclineCreatesNoChat(t *testing.T) {
	bus := transport.NewInProcessBus(0, 0)
	alice := newPeer(t, bus, "alice-pw")
	bob := newPeer(t, bus, "bob-pw")

	requestID, err := alice.engine.SendChatRequest(context.Background(), bob.chatKey(t), "hi")
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := bob.engine.RespondToRequest(context.Background(), requestID, models.RequestStatusDeclined); err != nil {
		t.Fatalf("decline: %v", err)
	}

	if got := len(bob.stores.Chats.GetAll()); got != 0 {
		t.Fatalf("expected no chat on decline, got %d", got)
	}
	if got := len(alice.stores.Chats.GetAll()); got != 0 {
		t.Fatalf("expected no chat on requester side, got %d", got)
	}
	aliceReq, _ := alice.stores.Requests.Get(requestID)
	if aliceReq.Status != models.RequestStatusDeclined {
		t.Fatalf("expected requester's request declined, got %q", aliceReq.Status)
	}
}

func TestBlockedSenderNewRequestIsRefused(t *testing.T) {
	bus := transport.NewInProcessBus(0, 0)
	alice := newPeer(t, bus, "alice-pw")
	bob := newPeer(t, bus, "bob-pw")

	first, err := alice.engine.SendChatRequest(context.Background(), bob.chatKey(t), "hi")
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := bob.engine.RespondToRequest(context.Background(), first, models.RequestStatusBlocked); err != nil {
		t.Fatalf("block: %v", err)
	}

	second, err := alice.engine.SendChatRequest(context.Background(), bob.chatKey(t), "hello again")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	// Bob keeps only the original (blocked) request record.
	if got := len(bob.stores.Requests.GetAll()); got != 1 {
		t.Fatalf("expected blocked sender's new request not persisted, got %d records", got)
	}
	secondReq, _ := alice.stores.Requests.Get(second)
	if secondReq.Status != models.RequestStatusBlocked {
		t.Fatalf("expected sender notified of block, got %q", secondReq.Status)
	}
	state, ok := bob.stores.RequestStates.Get(alice.chatKey(t))
	if !ok || state.Status != models.RequestStatusBlocked {
		t.Fatalf("expected per-peer state blocked, got %+v ok=%v", state, ok)
	}
}

func TestRepeatRequestToAcceptedChatReemitsAcceptOnce(t *testing.T) {
	bus := transport.NewInProcessBus(0, 0)
	alice := newPeer(t, bus, "alice-pw")
	bob := newPeer(t, bus, "bob-pw")
	bobKey := bob.chatKey(t)

	first, err := alice.engine.SendChatRequest(context.Background(), bobKey, "hi")
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := bob.engine.RespondToRequest(context.Background(), first, models.RequestStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// The original accept is assumed lost; alice asks again.
	second, err := alice.engine.SendChatRequest(context.Background(), bobKey, "hi again")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if got := len(bob.stores.Requests.GetAll()); got != 1 {
		t.Fatalf("expected no duplicate request record on re-request, got %d", got)
	}
	secondReq, _ := alice.stores.Requests.Get(second)
	if secondReq.Status != models.RequestStatusAccepted {
		t.Fatalf("expected re-emitted accept to resolve the retry, got %q", secondReq.Status)
	}
	if got := len(alice.stores.Chats.GetAll()); got != 1 {
		t.Fatalf("expected exactly one chat after re-accept, got %d", got)
	}
}

func TestAcceptEmbedsIntroAndRecordsPeer(t *testing.T) {
	bus := transport.NewInProcessBus(0, 0)
	alice := newPeer(t, bus, "alice-pw")
	bob := newPeer(t, bus, "bob-pw")

	requestID, err := alice.engine.SendChatRequest(context.Background(), bob.chatKey(t), "hello from alice")
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := bob.engine.RespondToRequest(context.Background(), requestID, models.RequestStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}

	var foundIntro bool
	for _, m := range bob.stores.Messages.GetAll() {
		if m.Type == models.MessageTypeSystem && m.Body == "hello from alice" {
			foundIntro = true
		}
	}
	if !foundIntro {
		t.Fatal("expected accepting side to append a system message embedding the intro")
	}

	var foundAccepted bool
	for _, m := range alice.stores.Messages.GetAll() {
		if m.Type == models.MessageTypeSystem && m.Body == "Chat request accepted." {
			foundAccepted = true
		}
	}
	if !foundAccepted {
		t.Fatal("expected requester side to append the accepted system message")
	}

	if _, ok := bob.stores.Peers.Get(alice.chatKey(t)); !ok {
		t.Fatal("expected bob to record alice as a peer")
	}
	if _, ok := alice.stores.Peers.Get(bob.chatKey(t)); !ok {
		t.Fatal("expected alice to record bob as a peer")
	}
}

func TestLockedIdentityRefusesOutboundAndDropsInbound(t *testing.T) {
	bus := transport.NewInProcessBus(0, 0)
	alice := newPeer(t, bus, "alice-pw")
	bob := newPeer(t, bus, "bob-pw")

	bob.idMgr.Lock()
	if _, err := alice.engine.SendChatRequest(context.Background(), bob.chatKey(t), "hi"); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if got := len(bob.stores.Requests.GetAll()); got != 0 {
		t.Fatalf("expected locked receiver to drop the request, got %d records", got)
	}

	alice.idMgr.Lock()
	if _, err := alice.engine.SendChatRequest(context.Background(), bob.chatKey(t), "hi"); err != ErrLocked {
		t.Fatalf("expected ErrLocked from outbound while locked, got %v", err)
	}
	if got := len(alice.idMgr.ErrorLog()); got == 0 {
		t.Fatal("expected the locked failure in the error log")
	}
}

func TestGroupInviteAcceptFlow(t *testing.T) {
	bus := transport.NewInProcessBus(0, 0)
	alice := newPeer(t, bus, "alice-pw")
	bob := newPeer(t, bus, "bob-pw")
	aliceKey := alice.chatKey(t)
	bobKey := bob.chatKey(t)
	groupID := "g-1"

	// On a shared bus the first subscriber owns the topic, so fan group
	// traffic out to both engines the way distinct gossip nodes would.
	if err := bus.Subscribe(context.Background(), groupTopicFor(groupID), func(raw []byte) {
		_ = alice.engine.HandleInbound(context.Background(), raw)
		_ = bob.engine.HandleInbound(context.Background(), raw)
	}); err != nil {
		t.Fatalf("subscribe group topic: %v", err)
	}

	if _, err := alice.engine.SendGroupInvite(context.Background(), groupID, "weekend plans", []string{aliceKey, bobKey}, bobKey, "join us"); err != nil {
		t.Fatalf("send invite: %v", err)
	}

	wantID := groupID + ":" + aliceKey
	req, ok := bob.stores.Requests.Get(wantID)
	if !ok {
		t.Fatalf("expected bob's invite request under id %q", wantID)
	}
	if req.Kind != models.RequestKindGroup || req.GroupName != "weekend plans" || req.Intro != "join us" {
		t.Fatalf("unexpected invite request %+v", req)
	}

	if err := bob.engine.RespondToGroupInvite(context.Background(), wantID, models.RequestStatusAccepted); err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	chat, ok := bob.stores.Chats.Get(groupID)
	if !ok || chat.Kind != models.ChatKindGroup || !chat.Accepted {
		t.Fatalf("expected bob's accepted group chat, got %+v ok=%v", chat, ok)
	}

	if _, err := alice.engine.SendGroupText(context.Background(), groupID, "hello group", ""); err != nil {
		t.Fatalf("group text: %v", err)
	}
	var got string
	for _, m := range bob.stores.Messages.GetAll() {
		if m.Type == models.MessageTypeText {
			got = m.Body
		}
	}
	if got != "hello group" {
		t.Fatalf("expected bob to decrypt the group text, got %q", got)
	}
}
