package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"heartstring/internal/domain/entity"
	"heartstring/pkg/errors"
)

// memoryMessages is an in-memory message gateway with per-method failure
// injection and call counting.
type memoryMessages struct {
	mu       sync.Mutex
	messages map[string]*entity.Message
	profiles map[string]*entity.Profile
	images   map[string][]entity.UserImage
	clock    time.Time
	seq      int

	fail  map[string]error
	calls map[string]int

	markReadArgs  [][]string
	summaryGate   chan struct{}
	onFetchThread func()
}

func newMemoryMessages() *memoryMessages {
	return &memoryMessages{
		messages: make(map[string]*entity.Message),
		profiles: make(map[string]*entity.Profile),
		images:   make(map[string][]entity.UserImage),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		fail:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (r *memoryMessages) addProfile(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[id] = &entity.Profile{ID: id, Name: name}
}

// seed stores a message with the next timestamp and returns a copy.
func (r *memoryMessages) seed(sender, receiver, content string, read bool) entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.nextLocked(sender, receiver, content)
	m.Read = read
	r.messages[m.ID] = m
	return *m
}

func (r *memoryMessages) nextLocked(sender, receiver, content string) *entity.Message {
	r.seq++
	r.clock = r.clock.Add(time.Minute)
	return &entity.Message{
		ID:         fmt.Sprintf("m%d", r.seq),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  r.clock,
	}
}

func (r *memoryMessages) setFail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

func (r *memoryMessages) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *memoryMessages) isRead(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	return ok && m.Read
}

func (r *memoryMessages) enter(method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method]++
	return r.fail[method]
}

func (r *memoryMessages) pairLocked(self, other string) []*entity.Message {
	var out []*entity.Message
	for _, m := range r.messages {
		if m.InConversation(self, other) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *memoryMessages) summaryLocked(self, other string) (*entity.Conversation, error) {
	p, ok := r.profiles[other]
	if !ok {
		return nil, errors.NotFound("Profile", nil)
	}
	conv := &entity.Conversation{PartnerID: other, Name: p.DisplayName()}
	thread := r.pairLocked(self, other)
	if n := len(thread); n > 0 {
		last := thread[n-1]
		at := last.CreatedAt
		conv.LastMessage = last.Preview()
		conv.LastMessageTime = &at
	}
	for _, m := range thread {
		if m.SenderID == other && !m.Read {
			conv.UnreadIDs = append(conv.UnreadIDs, m.ID)
		}
	}
	conv.UnreadCount = len(conv.UnreadIDs)
	return conv, nil
}

func (r *memoryMessages) ListConversationPartners(ctx context.Context, selfID string) ([]string, error) {
	if err := r.enter("ListConversationPartners"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]bool{}
	var out []string
	for _, m := range r.messages {
		if m.Involves(selfID) && !seen[m.PartnerOf(selfID)] {
			seen[m.PartnerOf(selfID)] = true
			out = append(out, m.PartnerOf(selfID))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryMessages) ListConversationSummaries(ctx context.Context, selfID string) ([]*entity.Conversation, error) {
	if err := r.enter("ListConversationSummaries"); err != nil {
		return nil, err
	}
	partners, _ := r.ListConversationPartners(ctx, selfID)

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Conversation
	for _, p := range partners {
		if conv, err := r.summaryLocked(selfID, p); err == nil {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (r *memoryMessages) FetchConversationSummary(ctx context.Context, selfID, otherID string) (*entity.Conversation, error) {
	if err := r.enter("FetchConversationSummary"); err != nil {
		return nil, err
	}
	if r.summaryGate != nil {
		select {
		case <-r.summaryGate:
		case <-ctx.Done():
			return nil, errors.Transient("Failed to load conversation", ctx.Err())
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked(selfID, otherID)
}

func (r *memoryMessages) FetchLastMessage(ctx context.Context, selfID, otherID string) (*entity.Message, error) {
	if err := r.enter("FetchLastMessage"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	thread := r.pairLocked(selfID, otherID)
	if len(thread) == 0 {
		return nil, errors.NotFound("Message", nil)
	}
	return thread[len(thread)-1], nil
}

func (r *memoryMessages) CountUnread(ctx context.Context, selfID, otherID string) (int, error) {
	if err := r.enter("CountUnread"); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.pairLocked(selfID, otherID) {
		if m.SenderID == otherID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (r *memoryMessages) GetMessagesByIDs(ctx context.Context, ids []string) ([]*entity.Message, error) {
	if err := r.enter("GetMessagesByIDs"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, id := range ids {
		if m, ok := r.messages[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryMessages) FetchThread(ctx context.Context, selfID, otherID string) ([]*entity.Message, error) {
	if err := r.enter("FetchThread"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	thread := r.pairLocked(selfID, otherID)
	hook := r.onFetchThread
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return thread, nil
}

func (r *memoryMessages) SendMessage(ctx context.Context, message *entity.Message) error {
	if err := r.enter("SendMessage"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.nextLocked(message.SenderID, message.ReceiverID, message.Content)
	m.ImageURL = message.ImageURL
	r.messages[m.ID] = m
	*message = *m
	return nil
}

func (r *memoryMessages) MarkRead(ctx context.Context, readerID string, ids []string) error {
	if err := r.enter("MarkRead"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markReadArgs = append(r.markReadArgs, append([]string(nil), ids...))
	for _, id := range ids {
		if m, ok := r.messages[id]; ok && m.ReceiverID == readerID {
			m.Read = true
		}
	}
	return nil
}

func (r *memoryMessages) DeleteMessage(ctx context.Context, id, requesterID string) error {
	if err := r.enter("DeleteMessage"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return errors.NotFound("Message", nil)
	}
	if m.SenderID != requesterID {
		return errors.Forbidden("Only the sender can delete a message", nil)
	}
	delete(r.messages, id)
	return nil
}

// staticIdentity resolves to a fixed user unless err is set.
type staticIdentity struct {
	mu  sync.Mutex
	uid string
	err error
}

func (i *staticIdentity) CurrentUserID(context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.uid, i.err
}

func (i *staticIdentity) set(uid string, err error) {
	i.mu.Lock()
	i.uid, i.err = uid, err
	i.mu.Unlock()
}

type mapVerifier map[string]string

func (v mapVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	uid, ok := v[token]
	if !ok {
		return "", errors.NotAuthenticated(nil)
	}
	return uid, nil
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
	err      error
}

func (u *fakeUploader) UploadFile(_ context.Context, file io.Reader, fileType, folder string, _ bool) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	if _, err := io.ReadAll(file); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	url := fmt.Sprintf("https://cdn.test/%s/%d.jpg", folder, len(u.uploaded)+1)
	u.uploaded = append(u.uploaded, url)
	return url, nil
}

func (u *fakeUploader) DeleteFile(_ context.Context, fileURL string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, fileURL)
	return nil
}

type denyLimiter struct{ wait time.Duration }

func (l denyLimiter) Allow(string, string) (bool, time.Duration) { return false, l.wait }

func changeEvent(t *testing.T, typ entity.EventType, newRow, oldRow interface{}) entity.ChangeEvent {
	t.Helper()
	ev := entity.ChangeEvent{Schema: entity.SchemaPublic, Table: entity.TableMessages, Type: typ}
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			t.Fatal(err)
		}
		ev.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			t.Fatal(err)
		}
		ev.Old = b
	}
	return ev
}

// kindRecorder collects change notifications.
type kindRecorder struct {
	mu    sync.Mutex
	kinds []ChangeKind
}

func (k *kindRecorder) record(kind ChangeKind) {
	k.mu.Lock()
	k.kinds = append(k.kinds, kind)
	k.mu.Unlock()
}

func (k *kindRecorder) count(kind ChangeKind) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, got := range k.kinds {
		if got == kind {
			n++
		}
	}
	return n
}
