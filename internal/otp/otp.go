// Package otp issues and verifies short-lived one-time codes.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/metrics"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

var (
	ErrNotFound     = errors.New("otp not found")
	ErrAlreadyUsed  = errors.New("otp already used")
	ErrExpired      = errors.New("otp expired")
	ErrExhausted    = errors.New("otp attempts exhausted")
	ErrInvalidCode  = errors.New("invalid otp")
	ErrInvalidInput = errors.New("address and purpose are required")
)

const codeDigits = 6

type Store interface {
	CreateCode(ctx context.Context, c *model.OneTimeCode) error
	LatestCode(ctx context.Context, address string, purpose model.OTPPurpose) (model.OneTimeCode, error)
	RecordFailedAttempt(ctx context.Context, id int64) (attempts int, ok bool, err error)
	MarkCodeVerified(ctx context.Context, id int64, at time.Time) (bool, error)
}

type CodeSender interface {
	SendText(ctx context.Context, phone, body string) (string, error)
}

type Options struct {
	// Production delivers codes through the sender. Otherwise the code is
	// logged and handed back to the caller.
	Production  bool
	TTL         time.Duration
	MaxAttempts int
	Title       string
}

type Issued struct {
	Address   string
	Purpose   model.OTPPurpose
	ExpiresAt time.Time
	Code      string
}

type Authenticator struct {
	store  Store
	sender CodeSender
	opts   Options
	now    func() time.Time
	gen    func() (string, error)
}

func New(st Store, sender CodeSender, opts Options) *Authenticator {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Title == "" {
		opts.Title = "Your verification code"
	}
	return &Authenticator{
		store:  st,
		sender: sender,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		gen:    GenerateCode,
	}
}

// GenerateCode returns a uniformly random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// Issue replaces any outstanding code for address and purpose.
func (a *Authenticator) Issue(ctx context.Context, address string, purpose model.OTPPurpose) (Issued, error) {
	if address == "" || !purpose.Valid() {
		return Issued{}, ErrInvalidInput
	}
	code, err := a.gen()
	if err != nil {
		return Issued{}, fmt.Errorf("generate code: %w", err)
	}
	now := a.now()
	c := &model.OneTimeCode{
		Address:     address,
		Purpose:     purpose,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.opts.TTL),
		MaxAttempts: a.opts.MaxAttempts,
	}
	if err := a.store.CreateCode(ctx, c); err != nil {
		return Issued{}, err
	}
	metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()

	out := Issued{Address: address, Purpose: purpose, ExpiresAt: c.ExpiresAt}
	if !a.opts.Production {
		logx.L().Infow("otp_issued_dev", "address", address, "purpose", purpose, "code", code)
		out.Code = code
		return out, nil
	}

	body := fmt.Sprintf("%s: %s. It expires in %d minutes.", a.opts.Title, code, int(a.opts.TTL.Minutes()))
	if _, err := a.sender.SendText(ctx, address, body); err != nil {
		return Issued{}, fmt.Errorf("deliver code: %w", err)
	}
	logx.L().Infow("otp_issued", "address", address, "purpose", purpose)
	return out, nil
}

// Verify consumes the latest code for address and purpose. A code verifies
// at most once.
func (a *Authenticator) Verify(ctx context.Context, address string, purpose model.OTPPurpose, code string) error {
	err := a.verify(ctx, address, purpose, code)
	metrics.OTPVerifications.WithLabelValues(verifyResult(err)).Inc()
	return err
}

func (a *Authenticator) verify(ctx context.Context, address string, purpose model.OTPPurpose, code string) error {
	c, err := a.store.LatestCode(ctx, address, purpose)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := a.now()
	switch {
	case c.Verified:
		return ErrAlreadyUsed
	case !now.Before(c.ExpiresAt):
		return ErrExpired
	case c.Attempts >= c.MaxAttempts:
		return ErrExhausted
	}

	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) != 1 {
		_, ok, err := a.store.RecordFailedAttempt(ctx, c.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrExhausted
		}
		return ErrInvalidCode
	}

	ok, err := a.store.MarkCodeVerified(ctx, c.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyUsed
	}
	logx.L().Infow("otp_verified", "address", address, "purpose", purpose)
	return nil
}

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCode):
		return "invalid"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrAlreadyUsed):
		return "used"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}
