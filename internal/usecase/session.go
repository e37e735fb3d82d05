package usecase

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"heartstring/internal/domain/entity"
	"heartstring/internal/domain/repository"
	"heartstring/internal/domain/service"
	"heartstring/internal/infrastructure/metrics"
	"heartstring/internal/infrastructure/ratelimit"
	"heartstring/pkg/errors"
	"heartstring/pkg/logger"
)

// ServiceContext carries the collaborators a Session needs. Uploader and
// Limiter are optional.
type ServiceContext struct {
	Messages repository.MessageRepository
	Identity service.Identity
	Feed     service.RealtimeFeed
	Uploader service.FileUploadService
	Limiter  RateLimiter
}

// Session is one signed-in user's live messaging state: the conversation list,
// the open thread and the realtime subscriptions keeping both current.
type Session struct {
	svc      ServiceContext
	listener func(ChangeKind)

	conversations *ConversationStore
	thread        *MessageThreadStore

	mu         sync.Mutex
	selfID     string
	reconciler *Reconciler
	closed     bool

	refreshGen atomic.Uint64
}

type SendMessageInput struct {
	ReceiverID string
	Content    string
	Image      io.Reader
	ImageType  string
}

func NewSession(svc ServiceContext, listener func(ChangeKind)) *Session {
	return &Session{
		svc:           svc,
		listener:      listener,
		conversations: NewConversationStore(),
		thread:        NewMessageThreadStore(),
	}
}

// Open resolves the user, subscribes to message changes and loads the
// conversation list. Subscribing first means no change is missed between the
// load and the subscription.
func (s *Session) Open(ctx context.Context) error {
	uid, err := s.svc.Identity.CurrentUserID(ctx)
	if err != nil {
		return authError(err)
	}

	rec := NewReconciler(uid, s.svc.Messages, s.svc.Feed, s.conversations, s.thread, s.notify)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Conflict("Session is closed")
	}
	if s.reconciler != nil {
		s.mu.Unlock()
		return errors.Conflict("Session is already open")
	}
	s.selfID = uid
	s.reconciler = rec
	s.mu.Unlock()

	if err := rec.Ensure(ctx); err != nil {
		s.Close()
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		s.Close()
		return err
	}

	logger.L().Info("messaging session opened", zap.String("user_id", uid))
	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rec := s.reconciler
	s.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	s.thread.Close()
}

func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Session) notify(kind ChangeKind) {
	if s.listener != nil {
		s.listener(kind)
	}
}

func authError(err error) error {
	if errors.Is(err, errors.CodeNotAuthenticated) {
		return err
	}
	return errors.NotAuthenticated(err)
}

// authorize re-checks the identity for each operation. The token must still
// belong to the user the session was opened for.
func (s *Session) authorize(ctx context.Context) (string, *Reconciler, error) {
	s.mu.Lock()
	closed, self, rec := s.closed, s.selfID, s.reconciler
	s.mu.Unlock()

	if closed || rec == nil {
		return "", nil, errors.Conflict("Session is not open")
	}

	uid, err := s.svc.Identity.CurrentUserID(ctx)
	if err != nil {
		return "", nil, authError(err)
	}
	if uid != self {
		return "", nil, errors.NotAuthenticated(nil)
	}
	return self, rec, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Refresh reloads the conversation list and resubscribes dropped topics. A
// load overtaken by a newer Refresh is discarded.
func (s *Session) Refresh(ctx context.Context) error {
	self, rec, err := s.authorize(ctx)
	if err != nil {
		return err
	}

	gen := s.refreshGen.Add(1)
	list, err := s.svc.Messages.ListConversationSummaries(ctx, self)
	if err != nil {
		return err
	}
	if s.refreshGen.Load() != gen || s.isClosed() {
		return nil
	}

	rec.ReplaceConversations(list)
	s.notify(ConversationsUpdated)

	if err := rec.Ensure(ctx); err != nil {
		logger.L().Warn("resubscribe failed", zap.String("user_id", self), zap.Error(err))
	}
	return nil
}

func (s *Session) Conversations() []entity.Conversation {
	return s.conversations.Snapshot()
}

// States reports the realtime subscription state per event type.
func (s *Session) States() map[entity.EventType]service.SubscriptionState {
	s.mu.Lock()
	rec := s.reconciler
	s.mu.Unlock()

	if rec == nil {
		return nil
	}
	return rec.States()
}

// OpenConversation makes partnerID's thread the open one, loads it and marks the
// partner's unread messages read.
func (s *Session) OpenConversation(ctx context.Context, partnerID string) ([]entity.Message, error) {
	self, rec, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if partnerID == "" || partnerID == self {
		return nil, errors.BadRequest("Invalid conversation partner", nil)
	}

	gen := s.thread.Open(self, partnerID)
	s.notify(ThreadUpdated)

	msgs, err := s.svc.Messages.FetchThread(ctx, self, partnerID)
	if err != nil {
		if s.thread.Abandon(gen) {
			s.notify(ThreadUpdated)
		}
		return nil, err
	}
	if !s.thread.Merge(gen, msgs) {
		// Another conversation was opened meanwhile.
		return nil, errors.Conflict("Conversation was closed while loading")
	}
	s.notify(ThreadUpdated)

	if unread := s.thread.UnreadFrom(partnerID); len(unread) > 0 {
		if err := rec.AcknowledgeRead(ctx, partnerID, unread); err != nil {
			return nil, err
		}
	}
	return s.thread.Snapshot(), nil
}

func (s *Session) CloseConversation() {
	s.thread.Close()
	s.notify(ThreadUpdated)
}

// Thread returns the open partner and its messages in display order.
func (s *Session) Thread() (string, []entity.Message, bool) {
	partner, _, open := s.thread.Current()
	if !open {
		return "", nil, false
	}
	return partner, s.thread.Snapshot(), true
}

func (s *Session) SendMessage(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	self, rec, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(input.Content)
	switch {
	case input.ReceiverID == "":
		return nil, errors.BadRequest("Receiver is required", nil)
	case input.ReceiverID == self:
		return nil, errors.BadRequest("You cannot send a message to yourself", nil)
	case content == "" && input.Image == nil:
		return nil, errors.BadRequest("Message cannot be empty", nil)
	case input.Image != nil && s.svc.Uploader == nil:
		return nil, errors.BadRequest("Image messages are not enabled", nil)
	}

	if s.svc.Limiter != nil {
		if ok, wait := s.svc.Limiter.Allow(self, ratelimit.ActionSendMessage); !ok {
			metrics.RateLimited.WithLabelValues(ratelimit.ActionSendMessage).Inc()
			return nil, errors.TooManyRequests("You are sending messages too fast", wait)
		}
	}

	var imageURL string
	if input.Image != nil {
		imageURL, err = s.svc.Uploader.UploadFile(ctx, input.Image, input.ImageType, "messages/"+self, true)
		if err != nil {
			return nil, err
		}
	}

	msg := &entity.Message{
		SenderID:   self,
		ReceiverID: input.ReceiverID,
		Content:    content,
		ImageURL:   imageURL,
	}
	if err := s.svc.Messages.SendMessage(ctx, msg); err != nil {
		if imageURL != "" {
			s.discardImage(ctx, imageURL)
		}
		return nil, err
	}

	metrics.MessagesSent.Inc()
	rec.ApplyLocalInsert(msg)
	return msg, nil
}

// DeleteMessage removes one of self's messages. A message known locally to be
// someone else's is rejected without contacting the backend.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	self, rec, err := s.authorize(ctx)
	if err != nil {
		return err
	}

	local, known := s.thread.Get(id)
	if known && local.SenderID != self {
		return errors.Forbidden("You can only delete your own messages", nil)
	}

	if err := s.svc.Messages.DeleteMessage(ctx, id, self); err != nil {
		return err
	}

	if s.thread.RemoveByID(id) {
		s.notify(ThreadUpdated)
	}
	if known {
		if local.ImageURL != "" && s.svc.Uploader != nil {
			s.discardImage(ctx, local.ImageURL)
		}
		rec.RefreshPartner(local.PartnerOf(self))
	}
	return nil
}

func (s *Session) discardImage(ctx context.Context, url string) {
	if err := s.svc.Uploader.DeleteFile(ctx, url); err != nil {
		logger.L().Warn("delete message image failed", zap.String("url", url), zap.Error(err))
	}
}
