package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/internal/domain/service"
	"heartstring/internal/infrastructure/metrics"
	"heartstring/pkg/errors"
	"heartstring/pkg/logger"
)

// ChangeKind tells listeners which store changed.
type ChangeKind string

const (
	ConversationsUpdated ChangeKind = "conversations_updated"
	ThreadUpdated        ChangeKind = "thread_updated"
)

const (
	seenCapacity     = 4096
	ledgerCapacity   = 4096
	asyncCallTimeout = 15 * time.Second

	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"

	triggerUnknownPartner = "unknown_partner"
	triggerDelete         = "delete"
)

var watchedEvents = []entity.EventType{entity.EventInsert, entity.EventUpdate, entity.EventDelete}

// Reconciler applies message row changes from a realtime feed to one user's
// conversation list and open thread. Each subscription is consumed by its own
// goroutine, one event at a time; fetches and remote writes triggered by an
// event run asynchronously and are dropped once the reconciler stops.
type Reconciler struct {
	selfID        string
	messages      repository.MessageRepository
	feed          service.RealtimeFeed
	conversations *ConversationStore
	thread        *MessageThreadStore
	notify        func(ChangeKind)

	ctx       context.Context
	cancel    context.CancelFunc
	consumers sync.WaitGroup

	mu      sync.Mutex
	subs    map[entity.EventType]service.Subscription
	stopped bool

	insertsSeen *boundedSet
	readsSeen   *boundedSet
	counted     *boundedSet
	ledger      *readLedger

	fetchMu  sync.Mutex
	inflight map[string]bool

	asyncTimeout time.Duration
}

func NewReconciler(
	selfID string,
	messages repository.MessageRepository,
	feed service.RealtimeFeed,
	conversations *ConversationStore,
	thread *MessageThreadStore,
	notify func(ChangeKind),
) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		selfID:        selfID,
		messages:      messages,
		feed:          feed,
		conversations: conversations,
		thread:        thread,
		notify:        notify,
		ctx:           ctx,
		cancel:        cancel,
		subs:          make(map[entity.EventType]service.Subscription),
		insertsSeen:   newBoundedSet(seenCapacity),
		readsSeen:     newBoundedSet(seenCapacity),
		counted:       newBoundedSet(seenCapacity),
		ledger:        newReadLedger(ledgerCapacity),
		inflight:      make(map[string]bool),
		asyncTimeout:  asyncCallTimeout,
	}
}

// Ensure subscribes every watched topic that has no live subscription. It is
// the entry point for recovering from dropped connections.
func (r *Reconciler) Ensure(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return errors.Internal("Realtime reconciler is stopped", nil)
	}

	var firstErr error
	for _, ev := range watchedEvents {
		if sub, ok := r.subs[ev]; ok && !ended(sub) {
			continue
		}

		topic := entity.Topic{Schema: entity.SchemaPublic, Table: entity.TableMessages, Event: ev, UserID: r.selfID}
		sub, err := r.feed.Subscribe(ctx, topic)
		if err != nil {
			logger.L().Warn("realtime subscribe failed",
				zap.String("user_id", r.selfID), zap.Stringer("topic", topic), zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Transient("Failed to subscribe to message changes", err)
			}
			continue
		}

		r.subs[ev] = sub
		r.consumers.Add(1)
		go r.consume(sub)
	}
	return firstErr
}

func ended(sub service.Subscription) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}

// States reports the subscription state per event type.
func (r *Reconciler) States() map[entity.EventType]service.SubscriptionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[entity.EventType]service.SubscriptionState, len(watchedEvents))
	for _, ev := range watchedEvents {
		if sub, ok := r.subs[ev]; ok {
			out[ev] = sub.State()
		} else {
			out[ev] = service.Unsubscribed
		}
	}
	return out
}

// Stop closes every subscription and waits for the consumers to return.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	subs := r.subs
	r.subs = make(map[entity.EventType]service.Subscription)
	r.mu.Unlock()

	r.cancel()
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			logger.Debug("close subscription %s: %v", sub.Topic(), err)
		}
	}
	r.consumers.Wait()
}

func (r *Reconciler) live() bool {
	return r.ctx.Err() == nil
}

func (r *Reconciler) consume(sub service.Subscription) {
	defer r.consumers.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-sub.Done():
			logger.L().Info("realtime subscription ended",
				zap.String("user_id", r.selfID), zap.Stringer("topic", sub.Topic()))
			return
		case ev := <-sub.Events():
			r.dispatch(ev)
		}
	}
}

func (r *Reconciler) dispatch(ev entity.ChangeEvent) {
	var outcome string
	switch ev.Type {
	case entity.EventInsert:
		outcome = r.handleInsert(ev)
	case entity.EventUpdate:
		outcome = r.handleUpdate(ev)
	case entity.EventDelete:
		outcome = r.handleDelete(ev)
	default:
		outcome = outcomeIgnored
	}
	metrics.RealtimeEvents.WithLabelValues(ev.Table, string(ev.Type), outcome).Inc()
}

func (r *Reconciler) emit(kind ChangeKind) {
	if r.notify != nil {
		r.notify(kind)
	}
}

func (r *Reconciler) handleInsert(ev entity.ChangeEvent) string {
	var m entity.Message
	if err := ev.DecodeNew(&m); err != nil || m.ID == "" {
		logger.L().Warn("undecodable message insert", zap.String("user_id", r.selfID), zap.Error(err))
		return outcomeInvalid
	}
	return r.applyInsert(&m)
}

// ApplyLocalInsert records a message this process just sent, so the list and
// thread update without waiting for the feed. The later feed event is a duplicate.
func (r *Reconciler) ApplyLocalInsert(m *entity.Message) {
	r.applyInsert(m)
}

func (r *Reconciler) applyInsert(m *entity.Message) string {
	if !m.Involves(r.selfID) {
		return outcomeIgnored
	}
	if !r.insertsSeen.Add(m.ID) {
		return outcomeDuplicate
	}

	ack := false
	if r.thread.Append(m) {
		r.emit(ThreadUpdated)
		ack = m.SenderID != r.selfID && !m.Read
	}

	var result ApplyResult
	if r.counted.Has(m.ID) {
		result = r.conversations.ApplyCountedMessage(m, r.selfID)
	} else {
		result = r.conversations.ApplyIncomingMessage(m, r.selfID)
	}
	if result == Applied {
		r.emit(ConversationsUpdated)
	}

	partner := m.PartnerOf(r.selfID)
	switch {
	case ack:
		// Runs after the increment. An unknown partner's summary is fetched once
		// the read is committed.
		id := m.ID
		r.goAsync(func(ctx context.Context) {
			if err := r.AcknowledgeRead(ctx, partner, []string{id}); err != nil {
				logger.L().Warn("mark read failed",
					zap.String("user_id", r.selfID), zap.String("message_id", id), zap.Error(err))
			}
			if result == UnknownPartner {
				r.fetchSummary(partner, triggerUnknownPartner)
			}
		})
	case result == UnknownPartner:
		r.fetchSummary(partner, triggerUnknownPartner)
	}
	return outcomeApplied
}

type readFlag struct {
	Read *bool `json:"read"`
}

func (r *Reconciler) handleUpdate(ev entity.ChangeEvent) string {
	var m entity.Message
	if err := ev.DecodeNew(&m); err != nil || m.ID == "" {
		logger.L().Warn("undecodable message update", zap.String("user_id", r.selfID), zap.Error(err))
		return outcomeInvalid
	}
	if !m.Read || !m.Involves(r.selfID) {
		return outcomeIgnored
	}

	var old readFlag
	if ok, err := ev.DecodeOld(&old); err == nil && ok && old.Read != nil && *old.Read {
		return outcomeIgnored
	}
	if !r.readsSeen.Add(m.ID) {
		return outcomeDuplicate
	}

	if r.thread.MarkRead(m.ID) {
		r.emit(ThreadUpdated)
	}

	// Read receipts on messages self sent only move the thread marker.
	if m.ReceiverID != r.selfID || m.SenderID == r.selfID {
		return outcomeApplied
	}
	if r.ledger.Consume(m.ID) {
		return outcomeApplied
	}
	if r.conversations.ApplyReadReceipt(m.SenderID) {
		r.emit(ConversationsUpdated)
	}
	return outcomeApplied
}

type deletedRow struct {
	ID string `json:"id"`
}

func (r *Reconciler) handleDelete(ev entity.ChangeEvent) string {
	var old deletedRow
	ok, err := ev.DecodeOld(&old)
	if err != nil {
		logger.L().Warn("undecodable message delete", zap.String("user_id", r.selfID), zap.Error(err))
		return outcomeInvalid
	}
	if !ok || old.ID == "" {
		return outcomeIgnored
	}

	local, found := r.thread.Get(old.ID)
	if !found || !r.thread.RemoveByID(old.ID) {
		return outcomeIgnored
	}
	r.emit(ThreadUpdated)
	r.RefreshPartner(local.PartnerOf(r.selfID))
	return outcomeApplied
}

// AcknowledgeRead marks the partner's messages read remotely, then locally,
// and decrements the partner's unread count once per message.
func (r *Reconciler) AcknowledgeRead(ctx context.Context, partnerID string, ids []string) error {
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if !r.readsSeen.Has(id) {
			candidates = append(candidates, id)
		}
	}
	fresh := r.ledger.Acknowledge(candidates)
	if len(fresh) == 0 {
		return nil
	}

	if err := r.messages.MarkRead(ctx, r.selfID, fresh); err != nil {
		metrics.MarkReadFailures.Inc()
		// Entries consumed meanwhile had their decrement deferred to us.
		if consumed := len(fresh) - r.ledger.Release(fresh); consumed > 0 {
			if r.conversations.ApplyReadReceipts(partnerID, consumed) {
				r.emit(ConversationsUpdated)
			}
		}
		return err
	}

	if r.thread.MarkReadBulk(fresh) > 0 {
		r.emit(ThreadUpdated)
	}
	if r.conversations.ApplyReadReceipts(partnerID, len(fresh)) {
		r.emit(ConversationsUpdated)
	}
	return nil
}

// ReplaceConversations installs a freshly loaded list. Feed inserts of the
// unread messages the summaries count update only the preview afterwards.
func (r *Reconciler) ReplaceConversations(list []*entity.Conversation) {
	for _, c := range list {
		r.markCounted(c)
	}
	r.conversations.Replace(list)
}

func (r *Reconciler) markCounted(c *entity.Conversation) {
	for _, id := range c.UnreadIDs {
		r.counted.Add(id)
	}
}

// RefreshPartner reloads one conversation summary in the background.
func (r *Reconciler) RefreshPartner(partnerID string) {
	r.fetchSummary(partnerID, triggerDelete)
}

// fetchSummary runs at most one fetch per partner. A request arriving while
// one is in flight schedules a single follow-up fetch.
func (r *Reconciler) fetchSummary(partnerID, trigger string) {
	r.fetchMu.Lock()
	if _, running := r.inflight[partnerID]; running {
		r.inflight[partnerID] = true
		r.fetchMu.Unlock()
		return
	}
	r.inflight[partnerID] = false
	r.fetchMu.Unlock()

	r.goAsync(func(ctx context.Context) {
		for {
			conv, err := r.messages.FetchConversationSummary(ctx, r.selfID, partnerID)
			switch {
			case !r.live():
				metrics.SummaryFetches.WithLabelValues(trigger, "stale").Inc()
			case err != nil:
				metrics.SummaryFetches.WithLabelValues(trigger, "error").Inc()
				if errors.Is(err, errors.CodeNotFound) {
					logger.L().Debug("no summary for partner",
						zap.String("user_id", r.selfID), zap.String("partner_id", partnerID))
				} else {
					logger.L().Warn("summary fetch failed",
						zap.String("user_id", r.selfID), zap.String("partner_id", partnerID), zap.Error(err))
				}
			default:
				metrics.SummaryFetches.WithLabelValues(trigger, "ok").Inc()
				r.markCounted(conv)
				r.conversations.Upsert(partnerID, entity.PatchFrom(conv))
				r.emit(ConversationsUpdated)
			}

			r.fetchMu.Lock()
			again := r.inflight[partnerID]
			if !again || err != nil || !r.live() {
				delete(r.inflight, partnerID)
				r.fetchMu.Unlock()
				return
			}
			r.inflight[partnerID] = false
			r.fetchMu.Unlock()
		}
	})
}

func (r *Reconciler) goAsync(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.asyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}
