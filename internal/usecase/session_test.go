package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterrepo "heartstring/internal/adapter/repository"
	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/internal/infrastructure/realtime"
	"heartstring/pkg/errors"
)

// world is a shared backend: one message store whose writes are published to
// one in-process feed, as the memory realtime driver wires it.
type world struct {
	repo    *memoryMessages
	feed    *realtime.MemoryFeed
	gateway repository.MessageRepository
}

func newWorld() *world {
	repo := newMemoryMessages()
	feed := realtime.NewMemoryFeed()
	return &world{repo: repo, feed: feed, gateway: adapterrepo.NewPublishingMessageRepository(repo, feed)}
}

type sessionHandle struct {
	*Session
	identity *staticIdentity
	kinds    *kindRecorder
	uploader *fakeUploader
}

func (w *world) open(t *testing.T, uid string, opts ...func(*ServiceContext)) *sessionHandle {
	t.Helper()
	h := &sessionHandle{identity: &staticIdentity{uid: uid}, kinds: &kindRecorder{}, uploader: &fakeUploader{}}
	svc := ServiceContext{Messages: w.gateway, Identity: h.identity, Feed: w.feed, Uploader: h.uploader}
	for _, opt := range opts {
		opt(&svc)
	}
	h.Session = NewSession(svc, h.kinds.record)
	require.NoError(t, h.Open(context.Background()))
	t.Cleanup(h.Close)
	return h
}

func (h *sessionHandle) conv(partner string) (entity.Conversation, bool) {
	return h.conversations.Get(partner)
}

func (h *sessionHandle) threadMessage(id string) (entity.Message, bool) {
	return h.thread.Get(id)
}

func newDatingWorld() *world {
	w := newWorld()
	w.repo.addProfile("u1", "Ann")
	w.repo.addProfile("u2", "Bea")
	return w
}

func TestSession_SendAppearsOnBothSides(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")
	b := w.open(t, "u2")

	sent, err := a.SendMessage(context.Background(), SendMessageInput{ReceiverID: "u2", Content: "  hi "})
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Content)
	assert.NotEmpty(t, sent.ID)

	require.Eventually(t, func() bool {
		c, ok := a.conv("u2")
		return ok && c.Name == "Bea" && c.LastMessage == "hi" && c.UnreadCount == 0
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		c, ok := b.conv("u1")
		return ok && c.Name == "Ann" && c.LastMessage == "hi" && c.UnreadCount == 1
	}, waitFor, tick)
}

func TestSession_OpeningThreadReadsPartnerMessages(t *testing.T) {
	w := newDatingWorld()
	first := w.repo.seed("u1", "u2", "hi", false)
	second := w.repo.seed("u1", "u2", "are you there", false)

	a := w.open(t, "u1")
	b := w.open(t, "u2")

	_, err := a.OpenConversation(context.Background(), "u2")
	require.NoError(t, err)
	c, _ := b.conv("u1")
	require.Equal(t, 2, c.UnreadCount)

	msgs, err := b.OpenConversation(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, m.Read)
	}
	c, _ = b.conv("u1")
	assert.Equal(t, 0, c.UnreadCount)
	assert.True(t, w.repo.isRead(first.ID))
	assert.True(t, w.repo.isRead(second.ID))

	require.Eventually(t, func() bool {
		m1, _ := a.threadMessage(first.ID)
		m2, _ := a.threadMessage(second.ID)
		return m1.Read && m2.Read
	}, waitFor, tick)
	c, _ = a.conv("u2")
	assert.Equal(t, 0, c.UnreadCount)
}

func TestSession_ReadUpdatesDoNotDecrementTwice(t *testing.T) {
	w := newDatingWorld()
	ids := []string{
		w.repo.seed("u1", "u2", "1", false).ID,
		w.repo.seed("u1", "u2", "2", false).ID,
		w.repo.seed("u1", "u2", "3", false).ID,
	}
	a := w.open(t, "u1")
	b := w.open(t, "u2")

	_, err := b.OpenConversation(context.Background(), "u1")
	require.NoError(t, err)
	b.CloseConversation()

	_, err = a.SendMessage(context.Background(), SendMessageInput{ReceiverID: "u2", Content: "more"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, _ := b.conv("u1")
		if c.UnreadCount != 1 || c.LastMessage != "more" {
			return false
		}
		for _, id := range ids {
			if !b.reconciler.readsSeen.Has(id) {
				return false
			}
		}
		return true
	}, waitFor, tick)
	assert.Never(t, func() bool {
		c, _ := b.conv("u1")
		return c.UnreadCount != 1
	}, 100*time.Millisecond, tick)
}

func TestSession_DeleteForeignMessageIsForbidden(t *testing.T) {
	w := newDatingWorld()
	theirs := w.repo.seed("u1", "u2", "hi", false)
	b := w.open(t, "u2")
	_, err := b.OpenConversation(context.Background(), "u1")
	require.NoError(t, err)
	before := b.thread.Snapshot()

	err = b.DeleteMessage(context.Background(), theirs.ID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.Equal(t, before, b.thread.Snapshot())
	assert.Equal(t, 0, w.repo.callCount("DeleteMessage"))

	// Not loaded locally: the backend predicate rejects it.
	b.CloseConversation()
	err = b.DeleteMessage(context.Background(), theirs.ID)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	assert.Equal(t, 1, w.repo.callCount("DeleteMessage"))
}

func TestSession_DeleteOwnMessage(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")
	b := w.open(t, "u2")
	ctx := context.Background()

	_, err := a.OpenConversation(ctx, "u2")
	require.NoError(t, err)
	_, err = b.OpenConversation(ctx, "u1")
	require.NoError(t, err)

	sent, err := a.SendMessage(ctx, SendMessageInput{ReceiverID: "u2", Content: "oops"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := b.threadMessage(sent.ID)
		return ok
	}, waitFor, tick)

	require.NoError(t, a.DeleteMessage(ctx, sent.ID))
	_, ok := a.threadMessage(sent.ID)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		_, ok := b.threadMessage(sent.ID)
		return !ok
	}, waitFor, tick)
}

func TestSession_SendValidation(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")
	ctx := context.Background()

	cases := []struct {
		name  string
		input SendMessageInput
		code  string
	}{
		{"blank content", SendMessageInput{ReceiverID: "u2", Content: " \n\t "}, errors.CodeBadRequest},
		{"self", SendMessageInput{ReceiverID: "u1", Content: "me"}, errors.CodeBadRequest},
		{"no receiver", SendMessageInput{Content: "hi"}, errors.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.SendMessage(ctx, tc.input)
			assert.True(t, errors.Is(err, tc.code), "got %v", err)
		})
	}
	assert.Equal(t, 0, w.repo.callCount("SendMessage"))
}

func TestSession_SendRateLimited(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1", func(svc *ServiceContext) { svc.Limiter = denyLimiter{wait: 4 * time.Second} })

	_, err := a.SendMessage(context.Background(), SendMessageInput{ReceiverID: "u2", Content: "hi"})

	assert.True(t, errors.Is(err, errors.CodeTooManyRequests))
	assert.Equal(t, 0, w.repo.callCount("SendMessage"))
}

func TestSession_SendFailureLeavesStateAndDiscardsImage(t *testing.T) {
	w := newDatingWorld()
	w.repo.seed("u2", "u1", "hello", true)
	a := w.open(t, "u1")
	before := a.Conversations()
	w.repo.setFail("SendMessage", errors.Transient("Failed to send message", nil))

	_, err := a.SendMessage(context.Background(), SendMessageInput{
		ReceiverID: "u2",
		Image:      strings.NewReader("jpeg bytes"),
		ImageType:  "image/jpeg",
	})

	assert.True(t, errors.Is(err, errors.CodeTransient))
	assert.Equal(t, before, a.Conversations())
	require.Len(t, a.uploader.uploaded, 1)
	assert.Equal(t, a.uploader.uploaded, a.uploader.deleted)
}

func TestSession_SendImageMessage(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")

	sent, err := a.SendMessage(context.Background(), SendMessageInput{
		ReceiverID: "u2",
		Image:      strings.NewReader("jpeg bytes"),
		ImageType:  "image/jpeg",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sent.ImageURL, "https://cdn.test/messages/u1/"))

	require.Eventually(t, func() bool {
		c, ok := a.conv("u2")
		return ok && c.LastMessage == "[image]"
	}, waitFor, tick)
}

func TestSession_IdentityIsRecheckedPerOperation(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")

	a.identity.set("u9", nil)
	_, err := a.SendMessage(context.Background(), SendMessageInput{ReceiverID: "u2", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeNotAuthenticated))

	a.identity.set("", errors.Unauthorized("Token expired", nil))
	err = a.Refresh(context.Background())
	assert.True(t, errors.Is(err, errors.CodeNotAuthenticated))
}

func TestSession_OpenFailures(t *testing.T) {
	w := newDatingWorld()

	s := NewSession(ServiceContext{
		Messages: w.gateway,
		Identity: &staticIdentity{err: errors.NotAuthenticated(nil)},
		Feed:     w.feed,
	}, nil)
	assert.True(t, errors.Is(s.Open(context.Background()), errors.CodeNotAuthenticated))

	w.repo.setFail("ListConversationSummaries", errors.Transient("Failed to load conversations", nil))
	s = NewSession(ServiceContext{Messages: w.gateway, Identity: &staticIdentity{uid: "u1"}, Feed: w.feed}, nil)
	err := s.Open(context.Background())
	assert.True(t, errors.Is(err, errors.CodeTransient))
	assert.Equal(t, 0, w.feed.Subscribers())
}

func TestSession_RefreshFailureKeepsList(t *testing.T) {
	w := newDatingWorld()
	w.repo.seed("u2", "u1", "hello", false)
	a := w.open(t, "u1")
	before := a.Conversations()
	require.Len(t, before, 1)

	w.repo.setFail("ListConversationSummaries", errors.Transient("Failed to load conversations", nil))
	require.Error(t, a.Refresh(context.Background()))
	assert.Equal(t, before, a.Conversations())
}

func TestSession_ThreadLoadMergesMessagesArrivingMeanwhile(t *testing.T) {
	w := newDatingWorld()
	old := w.repo.seed("u1", "u2", "before", true)
	b := w.open(t, "u2")

	var once sync.Once
	var during *entity.Message
	w.repo.mu.Lock()
	w.repo.onFetchThread = func() {
		once.Do(func() {
			during = &entity.Message{SenderID: "u1", ReceiverID: "u2", Content: "during"}
			require.NoError(t, w.gateway.SendMessage(context.Background(), during))
		})
	}
	w.repo.mu.Unlock()

	_, err := b.OpenConversation(context.Background(), "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, msgs, open := b.Thread()
		if !open || len(msgs) != 2 {
			return false
		}
		return msgs[0].ID == old.ID && msgs[1].ID == during.ID && msgs[1].Read
	}, waitFor, tick)
}

func TestSession_FailedThreadLoadLeavesNoThreadOpen(t *testing.T) {
	ctx := context.Background()
	w := newDatingWorld()
	w.repo.seed("u2", "u1", "hello", false)
	a := w.open(t, "u1")
	b := w.open(t, "u2")

	w.repo.setFail("FetchThread", errors.Transient("Failed to load conversation", nil))
	_, err := a.OpenConversation(ctx, "u2")
	assert.True(t, errors.Is(err, errors.CodeTransient))

	_, _, open := a.Thread()
	assert.False(t, open)

	// With no thread open the partner's next message stays unread.
	sent, err := b.SendMessage(ctx, SendMessageInput{ReceiverID: "u1", Content: "you there?"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, ok := a.conv("u2")
		return ok && c.LastMessage == "you there?" && c.UnreadCount == 2
	}, waitFor, tick)
	assert.False(t, w.repo.isRead(sent.ID))
}

func TestSession_OpenConversationRejectsSelf(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")

	_, err := a.OpenConversation(context.Background(), "u1")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	_, _, open := a.Thread()
	assert.False(t, open)
}

func TestSession_CloseStopsRealtime(t *testing.T) {
	w := newDatingWorld()
	a := w.open(t, "u1")
	require.Equal(t, 3, w.feed.Subscribers())

	a.Close()
	a.Close()

	assert.Equal(t, 0, w.feed.Subscribers())
	_, err := a.SendMessage(context.Background(), SendMessageInput{ReceiverID: "u2", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeConflict))
}
