package model

import "time"

type OTPPurpose string

const (
	PurposeLogin  OTPPurpose = "LOGIN"
	PurposeSignup OTPPurpose = "SIGNUP"
)

func (p OTPPurpose) Valid() bool { return p == PurposeLogin || p == PurposeSignup }

type OneTimeCode struct {
	ID          int64
	Address     string
	Purpose     OTPPurpose
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Verified    bool
	VerifiedAt  *time.Time
	Invalidated bool
	Attempts    int
	MaxAttempts int
}
