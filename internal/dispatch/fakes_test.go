package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mutter0815/tenantcast/internal/gateway"
	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type memStore struct {
	mu       sync.Mutex
	messages map[int64]*model.Message
	counters map[model.RunCounter]int
}

func newMemStore(msgs ...model.Message) *memStore {
	s := &memStore{messages: map[int64]*model.Message{}, counters: map[model.RunCounter]int{}}
	for i := range msgs {
		m := msgs[i]
		if m.Status == "" {
			m.Status = model.StatusQueued
		}
		s.messages[m.ID] = &m
	}
	return s
}

func (s *memStore) GetMessage(_ context.Context, tenantID, id int64) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.TenantID != tenantID {
		return model.Message{}, store.ErrNotFound
	}
	return *m, nil
}

func (s *memStore) FindByExternalID(_ context.Context, ext string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ExternalID != nil && *m.ExternalID == ext {
			return *m, nil
		}
	}
	return model.Message{}, store.ErrNotFound
}

func (s *memStore) TransitionMessage(_ context.Context, c store.StatusChange) (bool, error) {
	requeue := c.To == model.StatusQueued && model.CanRequeue(c.From)
	if !requeue && !model.CanTransition(c.From, c.To) {
		return false, fmt.Errorf("%s -> %s: %w", c.From, c.To, store.ErrIllegalTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[c.ID]
	if !ok || m.TenantID != c.TenantID || m.Status != c.From {
		return false, nil
	}
	m.Status = c.To
	if requeue {
		m.RetryCount++
	}
	if c.ExternalID != "" {
		ext := c.ExternalID
		m.ExternalID = &ext
	}
	if c.Reason != "" {
		m.FailReason = c.Reason
	}
	if m.RunID != nil {
		for _, counter := range c.Counters {
			s.counters[counter]++
		}
	}
	return true, nil
}

func (s *memStore) get(id int64) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

func (s *memStore) count(c model.RunCounter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[c]
}

// scriptedSender answers per phone; phones without a script succeed.
type scriptedSender struct {
	mu    sync.Mutex
	errs  map[string]error
	calls int
}

func (f *scriptedSender) SendTemplate(_ context.Context, req gateway.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[req.Phone]; err != nil {
		return "", err
	}
	return "wamid." + req.Reference, nil
}

func (f *scriptedSender) SendText(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *scriptedSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func queued(id int64, phone string) model.Message {
	runID := int64(1)
	return model.Message{
		ID: id, TenantID: 1, RunID: &runID, Phone: phone,
		TemplateName: "emi_due_en", Language: "en", Variables: []string{"Asha"},
		Status: model.StatusQueued,
	}
}

func sent(id int64, ext string) model.Message {
	m := queued(id, "+910000000000")
	m.Status = model.StatusSent
	m.ExternalID = &ext
	return m
}

// cancelAwareStore fails writes on a finished context the way database/sql does.
type cancelAwareStore struct {
	*memStore
}

func (s cancelAwareStore) TransitionMessage(ctx context.Context, c store.StatusChange) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.memStore.TransitionMessage(ctx, c)
}

// cancellingSender cancels the caller's context mid-send, as a SIGTERM would.
type cancellingSender struct {
	cancel context.CancelFunc
	err    error
}

func (s cancellingSender) SendTemplate(_ context.Context, req gateway.SendRequest) (string, error) {
	s.cancel()
	if s.err != nil {
		return "", s.err
	}
	return "wamid." + req.Reference, nil
}

func (s cancellingSender) SendText(context.Context, string, string) (string, error) {
	return "", nil
}
