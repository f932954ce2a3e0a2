package otp

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type memStore struct {
	mu    sync.Mutex
	codes []*model.OneTimeCode
}

func (s *memStore) CreateCode(_ context.Context, c *model.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.codes {
		if old.Address == c.Address && old.Purpose == c.Purpose && !old.Verified {
			old.Invalidated = true
		}
	}
	c.ID = int64(len(s.codes) + 1)
	cp := *c
	s.codes = append(s.codes, &cp)
	return nil
}

func (s *memStore) LatestCode(_ context.Context, address string, purpose model.OTPPurpose) (model.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.codes) - 1; i >= 0; i-- {
		c := s.codes[i]
		if c.Address == address && c.Purpose == purpose && !c.Invalidated {
			return *c, nil
		}
	}
	return model.OneTimeCode{}, store.ErrNotFound
}

func (s *memStore) RecordFailedAttempt(_ context.Context, id int64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.codes[id-1]
	if c.Attempts >= c.MaxAttempts {
		return 0, false, nil
	}
	c.Attempts++
	return c.Attempts, true, nil
}

func (s *memStore) MarkCodeVerified(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.codes[id-1]
	if c.Verified || c.Invalidated || c.Attempts >= c.MaxAttempts || !at.Before(c.ExpiresAt) {
		return false, nil
	}
	c.Verified = true
	c.VerifiedAt = &at
	return true, nil
}

type textSender struct {
	phone, body string
	err         error
}

func (t *textSender) SendText(_ context.Context, phone, body string) (string, error) {
	t.phone, t.body = phone, body
	return "wamid.otp", t.err
}

func newAuth(opts Options) (*Authenticator, *memStore, *textSender, *time.Time) {
	st := &memStore{}
	sender := &textSender{}
	a := New(st, sender, opts)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, st, sender, &now
}

const phone = "+919876543210"

func TestGenerateCode(t *testing.T) {
	six := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 200; i++ {
		c, err := GenerateCode()
		require.NoError(t, err)
		require.Regexp(t, six, c)
	}
}

func TestVerify_ExactlyOnce(t *testing.T) {
	a, _, _, _ := newAuth(Options{})
	ctx := context.Background()

	issued, err := a.Issue(ctx, phone, model.PurposeLogin)
	require.NoError(t, err)
	require.Len(t, issued.Code, 6)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.Verify(ctx, phone, model.PurposeLogin, issued.Code) == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
	assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeLogin, issued.Code), ErrAlreadyUsed)
}

func TestVerify_ExhaustedOnFourthAttempt(t *testing.T) {
	a, _, _, _ := newAuth(Options{})
	ctx := context.Background()
	issued, err := a.Issue(ctx, phone, model.PurposeLogin)
	require.NoError(t, err)

	wrong := "000000"
	if issued.Code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeLogin, wrong), ErrInvalidCode, "attempt %d", i+1)
	}
	assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeLogin, issued.Code), ErrExhausted)
}

func TestVerify_Expired(t *testing.T) {
	a, _, _, now := newAuth(Options{TTL: 10 * time.Minute})
	ctx := context.Background()
	issued, err := a.Issue(ctx, phone, model.PurposeSignup)
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), issued.ExpiresAt)

	*now = now.Add(10 * time.Minute)
	assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeSignup, issued.Code), ErrExpired)
}

func TestIssue_InvalidatesPreviousCode(t *testing.T) {
	a, _, _, _ := newAuth(Options{})
	ctx := context.Background()

	first, err := a.Issue(ctx, phone, model.PurposeLogin)
	require.NoError(t, err)
	a.gen = func() (string, error) { return "424242", nil }
	second, err := a.Issue(ctx, phone, model.PurposeLogin)
	require.NoError(t, err)

	if first.Code != second.Code {
		assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeLogin, first.Code), ErrInvalidCode)
	}
	assert.NoError(t, a.Verify(ctx, phone, model.PurposeLogin, "424242"))
}

func TestVerify_NotFoundAndPurposeIsolation(t *testing.T) {
	a, _, _, _ := newAuth(Options{})
	ctx := context.Background()

	assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeLogin, "123456"), ErrNotFound)

	issued, err := a.Issue(ctx, phone, model.PurposeSignup)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Verify(ctx, phone, model.PurposeLogin, issued.Code), ErrNotFound)
}

func TestIssue_ProductionSendsCode(t *testing.T) {
	a, _, sender, _ := newAuth(Options{Production: true, Title: "Your code"})
	a.gen = func() (string, error) { return "135790", nil }

	issued, err := a.Issue(context.Background(), phone, model.PurposeLogin)
	require.NoError(t, err)
	assert.Empty(t, issued.Code, "code is never returned in production")
	assert.Equal(t, phone, sender.phone)
	assert.Contains(t, sender.body, "135790")

	sender.err = errors.New("gateway down")
	_, err = a.Issue(context.Background(), phone, model.PurposeLogin)
	assert.Error(t, err)
}

func TestIssue_RejectsBadInput(t *testing.T) {
	a, _, _, _ := newAuth(Options{})
	_, err := a.Issue(context.Background(), "", model.PurposeLogin)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.Issue(context.Background(), phone, model.OTPPurpose("RESET"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessions(t *testing.T) {
	s := NewSessions("secret", time.Hour)
	now := time.Now().UTC().Truncate(time.Second)

	tok, exp, err := s.Issue(phone, model.PurposeLogin, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	claims, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, phone, claims.Address)
	assert.Equal(t, model.PurposeLogin, claims.Purpose)
	assert.Equal(t, exp, claims.Expires)

	_, err = NewSessions("other", time.Hour).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, _, err := s.Issue(phone, model.PurposeLogin, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
