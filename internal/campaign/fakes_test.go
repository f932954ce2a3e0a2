package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type memStore struct {
	mu           sync.Mutex
	nextID       int64
	campaigns    map[int64]model.Campaign
	runs         []*model.CampaignRun
	contacts     []model.Contact
	translations map[string]model.TemplateTranslation
	messages     []*model.Message
	contactsErr  error
	completeErr  error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:    map[int64]model.Campaign{},
		translations: map[string]model.TemplateTranslation{},
	}
}

func (m *memStore) id() int64 { m.nextID++; return m.nextID }

func (m *memStore) addCampaign(c model.Campaign) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.campaigns[c.ID] = c
	return c
}

func (m *memStore) addTranslation(lang string, bindings ...model.VariableBinding) {
	m.translations[lang] = model.TemplateTranslation{
		TemplateID: 1, Language: lang, GatewayName: "emi_due_" + lang,
		Bindings: bindings, ApprovalStatus: model.ApprovalApproved,
	}
}

func (m *memStore) GetTemplateTranslation(_ context.Context, _ int64, lang string) (model.TemplateTranslation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.translations[lang]
	if !ok {
		return tr, store.ErrNotFound
	}
	return tr, nil
}

func (m *memStore) GetCampaign(_ context.Context, tenantID, id int64) (model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return model.Campaign{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) SetCampaignStatus(_ context.Context, tenantID, id int64, from, to model.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.TenantID != tenantID || c.Status != from {
		return false, nil
	}
	c.Status = to
	m.campaigns[id] = c
	return true, nil
}

func (m *memStore) ListActiveCampaigns(context.Context) ([]model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Campaign
	for _, c := range m.campaigns {
		if c.Status == model.CampaignActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) CreateRun(_ context.Context, run *model.CampaignRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.CampaignID == run.CampaignID && r.PeriodKey == run.PeriodKey {
			return store.ErrConflict
		}
	}
	run.ID = m.id()
	run.Status = model.RunPending
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *memStore) run(id int64) *model.CampaignRun {
	for _, r := range m.runs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memStore) LatestRun(_ context.Context, tenantID, campaignID int64) (*model.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *model.CampaignRun
	for _, r := range m.runs {
		if r.TenantID == tenantID && r.CampaignID == campaignID {
			if last == nil || r.ScheduledAt.After(last.ScheduledAt) {
				last = r
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *memStore) GetRunByPeriod(_ context.Context, tenantID, campaignID int64, key string) (model.CampaignRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.TenantID == tenantID && r.CampaignID == campaignID && r.PeriodKey == key {
			return *r, nil
		}
	}
	return model.CampaignRun{}, store.ErrNotFound
}

func (m *memStore) StartRun(_ context.Context, _, runID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.run(runID)
	r.Status = model.RunRunning
	r.StartedAt = &at
	return nil
}

func (m *memStore) SetRunContacts(_ context.Context, _, runID int64, total, eligible int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.run(runID)
	r.TotalContacts, r.EligibleContacts = total, eligible
	return nil
}

func (m *memStore) FinishRun(_ context.Context, _, runID int64, status model.RunStatus, note string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == model.RunCompleted && m.completeErr != nil {
		return m.completeErr
	}
	r := m.run(runID)
	if r.Status == model.RunCompleted || r.Status == model.RunFailed {
		return nil
	}
	r.Status, r.ErrorNote, r.CompletedAt = status, note, &at
	return nil
}

func (m *memStore) bump(runID int64, counter model.RunCounter) {
	r := m.run(runID)
	switch counter {
	case model.CounterQueued:
		r.MessagesQueued++
	case model.CounterFailed:
		r.MessagesFailed++
	}
}

func (m *memStore) DeleteFailedRun(_ context.Context, _, runID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.RunID != nil && *msg.RunID == runID {
			return false, nil
		}
	}
	for i, r := range m.runs {
		if r.ID == runID && r.Status == model.RunFailed {
			m.runs = append(m.runs[:i], m.runs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CountContacts(_ context.Context, tenantID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.contacts {
		if c.TenantID == tenantID && !c.Deleted {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListEligibleContacts(_ context.Context, tenantID int64, segment *string) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contactsErr != nil {
		return nil, m.contactsErr
	}
	var out []model.Contact
	for _, c := range m.contacts {
		if c.TenantID != tenantID || c.OptedOut || c.Deleted {
			continue
		}
		if segment != nil && c.Segment != *segment {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) InsertMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now().UTC()
	}
	cp := *msg
	m.messages = append(m.messages, &cp)
	if msg.RunID != nil {
		switch msg.Status {
		case model.StatusQueued:
			m.bump(*msg.RunID, model.CounterQueued)
		case model.StatusFailed:
			m.bump(*msg.RunID, model.CounterFailed)
		}
	}
	return nil
}

func (m *memStore) ListStaleQueued(_ context.Context, cutoff time.Time, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.Status == model.StatusQueued && msg.QueuedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memStore) TouchQueued(_ context.Context, _, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			msg.QueuedAt = at
		}
	}
	return nil
}

func (m *memStore) runsFor(campaignID int64) []model.CampaignRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CampaignRun
	for _, r := range m.runs {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out
}

func (m *memStore) messagesFor(runID int64) []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.RunID != nil && *msg.RunID == runID {
			out = append(out, *msg)
		}
	}
	return out
}

type memQueue struct {
	mu   sync.Mutex
	jobs []model.DispatchJob
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, job model.DispatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

var errBroker = errors.New("broker unavailable")
