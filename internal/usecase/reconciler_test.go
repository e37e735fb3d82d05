package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/service"
	"heartstring/internal/infrastructure/realtime"
	"heartstring/pkg/errors"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type reconcilerFixture struct {
	repo   *memoryMessages
	feed   *realtime.MemoryFeed
	convs  *ConversationStore
	thread *MessageThreadStore
	kinds  *kindRecorder
	rec    *Reconciler
}

func newReconcilerFixture(t *testing.T, self string) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		repo:   newMemoryMessages(),
		feed:   realtime.NewMemoryFeed(),
		convs:  NewConversationStore(),
		thread: NewMessageThreadStore(),
		kinds:  &kindRecorder{},
	}
	f.rec = NewReconciler(self, f.repo, f.feed, f.convs, f.thread, f.kinds.record)
	t.Cleanup(f.rec.Stop)
	return f
}

func (f *reconcilerFixture) unread(partner string) int {
	c, _ := f.convs.Get(partner)
	return c.UnreadCount
}

func (f *reconcilerFixture) withUnread(partner string, n int) {
	f.convs.Upsert(partner, entity.ConversationPatch{UnreadCount: &n})
}

func readRow(m entity.Message) entity.Message {
	m.Read = true
	return m
}

func TestReconciler_InsertFromKnownPartner(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 0)
	m := f.repo.seed("u2", "u1", "hi", false)

	f.rec.dispatch(changeEvent(t, entity.EventInsert, m, nil))
	f.rec.dispatch(changeEvent(t, entity.EventInsert, m, nil))

	c, ok := f.convs.Get("u2")
	require.True(t, ok)
	assert.Equal(t, "hi", c.LastMessage)
	assert.Equal(t, 1, c.UnreadCount, "duplicate delivery is ignored")
	assert.Equal(t, 1, f.kinds.count(ConversationsUpdated))
}

func TestReconciler_IgnoresForeignAndMalformedRows(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 0)

	f.rec.dispatch(changeEvent(t, entity.EventInsert, entity.Message{ID: "x", SenderID: "u2", ReceiverID: "u3"}, nil))
	f.rec.dispatch(entity.ChangeEvent{Schema: entity.SchemaPublic, Table: entity.TableMessages, Type: entity.EventInsert, New: []byte(`{`)})

	assert.Equal(t, 0, f.unread("u2"))
	assert.Equal(t, 0, f.repo.callCount("FetchConversationSummary"))
}

func TestReconciler_UnknownPartnerTriggersSingleFollowUpFetch(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.repo.addProfile("u2", "Bea")
	gate := make(chan struct{})
	f.repo.summaryGate = gate

	first := f.repo.seed("u2", "u1", "hi", false)
	f.rec.dispatch(changeEvent(t, entity.EventInsert, first, nil))
	assert.Equal(t, 0, f.convs.Len(), "no placeholder entry before the profile is known")

	f.rec.dispatch(changeEvent(t, entity.EventInsert, f.repo.seed("u2", "u1", "again", false), nil))
	f.rec.dispatch(changeEvent(t, entity.EventInsert, f.repo.seed("u2", "u1", "third", false), nil))
	close(gate)

	require.Eventually(t, func() bool {
		c, ok := f.convs.Get("u2")
		return ok && c.Name == "Bea" && c.LastMessage == "third" && c.UnreadCount == 3
	}, waitFor, tick)
	require.Eventually(t, func() bool { return f.repo.callCount("FetchConversationSummary") == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return f.repo.callCount("FetchConversationSummary") > 2 }, 50*time.Millisecond, tick)
}

func TestReconciler_InsertAlreadyCountedByLoadedListIsNotCountedAgain(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.repo.addProfile("u2", "Bea")
	m := f.repo.seed("u2", "u1", "hi", false)

	list, err := f.repo.ListConversationSummaries(context.Background(), "u1")
	require.NoError(t, err)
	f.rec.ReplaceConversations(list)
	require.Equal(t, 1, f.unread("u2"))

	// The insert event for m arrives after the list that already counts it.
	f.rec.dispatch(changeEvent(t, entity.EventInsert, m, nil))
	c, _ := f.convs.Get("u2")
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "hi", c.LastMessage)

	f.rec.dispatch(changeEvent(t, entity.EventInsert, f.repo.seed("u2", "u1", "still there?", false), nil))
	assert.Equal(t, 2, f.unread("u2"))
}

func TestReconciler_InsertAlreadyCountedByFetchedSummaryIsNotCountedAgain(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.repo.addProfile("u2", "Bea")
	first := f.repo.seed("u2", "u1", "hi", false)
	second := f.repo.seed("u2", "u1", "there", false)

	f.rec.dispatch(changeEvent(t, entity.EventInsert, first, nil))
	require.Eventually(t, func() bool { return f.unread("u2") == 2 }, waitFor, tick)

	f.rec.dispatch(changeEvent(t, entity.EventInsert, second, nil))
	assert.Equal(t, 2, f.unread("u2"))
}

func TestReconciler_UnknownPartnerWithoutProfileStaysUnlisted(t *testing.T) {
	f := newReconcilerFixture(t, "u1")

	f.rec.dispatch(changeEvent(t, entity.EventInsert, f.repo.seed("ghost", "u1", "boo", false), nil))

	require.Eventually(t, func() bool { return f.repo.callCount("FetchConversationSummary") == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return f.convs.Len() > 0 }, 50*time.Millisecond, tick)
}

func TestReconciler_ReadReceiptForReceivedMessage(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 2)
	m := f.repo.seed("u2", "u1", "hi", false)

	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m), m))
	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m), m))
	assert.Equal(t, 1, f.unread("u2"))

	other := f.repo.seed("u2", "u1", "old", true)
	f.rec.dispatch(changeEvent(t, entity.EventUpdate, other, other))
	assert.Equal(t, 1, f.unread("u2"), "row that was already read")

	unreadEdit := f.repo.seed("u2", "u1", "edit", false)
	f.rec.dispatch(changeEvent(t, entity.EventUpdate, unreadEdit, nil))
	assert.Equal(t, 1, f.unread("u2"), "update that leaves read false")
}

func TestReconciler_ReadReceiptForSentMessageOnlyMovesMarker(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 1)
	f.thread.Open("u1", "u2")
	m := f.repo.seed("u1", "u2", "hi", false)
	require.True(t, f.thread.Append(&m))

	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m), nil))

	got, _ := f.thread.Get(m.ID)
	assert.True(t, got.Read)
	assert.Equal(t, 1, f.unread("u2"))
	assert.Equal(t, 1, f.kinds.count(ThreadUpdated))
}

func TestReconciler_BulkReadThenUpdateEventsDecrementOnce(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 4)
	m1 := f.repo.seed("u2", "u1", "1", false)
	m2 := f.repo.seed("u2", "u1", "2", false)
	m3 := f.repo.seed("u2", "u1", "3", false)
	f.repo.seed("u2", "u1", "4", false)

	require.NoError(t, f.rec.AcknowledgeRead(context.Background(), "u2", []string{m1.ID, m2.ID}))
	assert.Equal(t, 2, f.unread("u2"))
	assert.True(t, f.repo.isRead(m1.ID))

	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m1), m1))
	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m2), m2))
	assert.Equal(t, 2, f.unread("u2"))

	// Read on another device.
	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m3), m3))
	assert.Equal(t, 1, f.unread("u2"))

	require.NoError(t, f.rec.AcknowledgeRead(context.Background(), "u2", []string{m1.ID, m3.ID}))
	assert.Equal(t, 1, f.unread("u2"))
	assert.Equal(t, 1, f.repo.callCount("MarkRead"))
}

func TestReconciler_FailedAcknowledgeLeavesCountAndReleasesLedger(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 2)
	f.thread.Open("u1", "u2")
	m := f.repo.seed("u2", "u1", "hi", false)
	f.thread.Append(&m)
	f.repo.setFail("MarkRead", errors.Transient("Failed to mark messages read", nil))

	err := f.rec.AcknowledgeRead(context.Background(), "u2", []string{m.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeTransient))
	assert.Equal(t, 2, f.unread("u2"))
	got, _ := f.thread.Get(m.ID)
	assert.False(t, got.Read)

	f.rec.dispatch(changeEvent(t, entity.EventUpdate, readRow(m), m))
	assert.Equal(t, 1, f.unread("u2"))
}

func TestReconciler_InsertIntoOpenThreadMarksRead(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 0)
	f.thread.Open("u1", "u2")
	m := f.repo.seed("u2", "u1", "hi", false)

	f.rec.dispatch(changeEvent(t, entity.EventInsert, m, nil))

	require.Eventually(t, func() bool {
		got, ok := f.thread.Get(m.ID)
		return ok && got.Read && f.repo.isRead(m.ID) && f.unread("u2") == 0
	}, waitFor, tick)
	assert.Equal(t, [][]string{{m.ID}}, f.repo.markReadArgs)
}

func TestReconciler_DeleteRemovesFromThreadAndRefreshesSummary(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.repo.addProfile("u2", "Bea")
	f.withUnread("u2", 0)
	f.thread.Open("u1", "u2")
	m := f.repo.seed("u1", "u2", "oops", false)
	f.thread.Append(&m)

	f.rec.dispatch(changeEvent(t, entity.EventDelete, nil, entity.Message{ID: "unknown"}))
	assert.Len(t, f.thread.Snapshot(), 1)

	f.rec.dispatch(changeEvent(t, entity.EventDelete, nil, map[string]string{"id": m.ID}))
	assert.Empty(t, f.thread.Snapshot())
	require.Eventually(t, func() bool { return f.repo.callCount("FetchConversationSummary") == 1 }, waitFor, tick)
}

func TestReconciler_DeletingOnlyMessageClearsPreviewTime(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t, "u1")
	f.repo.addProfile("u2", "Bea")
	f.repo.addProfile("u3", "Cal")
	f.repo.seed("u3", "u1", "hey", true)
	only := f.repo.seed("u1", "u2", "oops", false)

	list, err := f.repo.ListConversationSummaries(ctx, "u1")
	require.NoError(t, err)
	f.rec.ReplaceConversations(list)
	require.Equal(t, []string{"u2", "u3"}, partnerOrder(f.convs))

	f.thread.Open("u1", "u2")
	f.thread.Append(&only)
	require.NoError(t, f.repo.DeleteMessage(ctx, only.ID, "u1"))
	f.rec.dispatch(changeEvent(t, entity.EventDelete, nil, map[string]string{"id": only.ID}))

	require.Eventually(t, func() bool {
		c, ok := f.convs.Get("u2")
		return ok && c.LastMessageTime == nil
	}, waitFor, tick)
	c, _ := f.convs.Get("u2")
	assert.Empty(t, c.LastMessage)
	assert.Equal(t, []string{"u3", "u2"}, partnerOrder(f.convs))
}

func TestReconciler_SubscriptionLifecycle(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	ctx := context.Background()

	require.NoError(t, f.rec.Ensure(ctx))
	assert.Equal(t, 3, f.feed.Subscribers())
	for _, state := range f.rec.States() {
		assert.Equal(t, service.Active, state)
	}
	f.rec.mu.Lock()
	for _, sub := range f.rec.subs {
		assert.Equal(t, "u1", sub.Topic().UserID, "topics are scoped to the session user")
	}
	f.rec.mu.Unlock()

	f.rec.mu.Lock()
	dropped := f.rec.subs[entity.EventUpdate]
	f.rec.mu.Unlock()
	require.NoError(t, dropped.Close())
	assert.Equal(t, service.Unsubscribed, f.rec.States()[entity.EventUpdate])

	require.NoError(t, f.rec.Ensure(ctx))
	assert.Equal(t, 3, f.feed.Subscribers())
	assert.Equal(t, service.Active, f.rec.States()[entity.EventUpdate])

	f.rec.Stop()
	f.rec.Stop()
	assert.Equal(t, 0, f.feed.Subscribers())
	assert.Error(t, f.rec.Ensure(ctx))
}

func TestReconciler_ConsumesFeedEvents(t *testing.T) {
	f := newReconcilerFixture(t, "u1")
	f.withUnread("u2", 0)
	require.NoError(t, f.rec.Ensure(context.Background()))

	m := f.repo.seed("u2", "u1", "live", false)
	require.NoError(t, f.feed.Publish(context.Background(), changeEvent(t, entity.EventInsert, m, nil)))

	require.Eventually(t, func() bool { return f.unread("u2") == 1 }, waitFor, tick)

	require.NoError(t, f.feed.Publish(context.Background(), changeEvent(t, entity.EventUpdate, readRow(m), m)))
	require.Eventually(t, func() bool { return f.unread("u2") == 0 }, waitFor, tick)
}
