package otp

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Sessions signs HS256 session tokens handed out after a successful verify.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

func NewSessions(secret string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}
}

type Claims struct {
	Address string
	Purpose model.OTPPurpose
	Expires time.Time
}

func (s *Sessions) Issue(address string, purpose model.OTPPurpose, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub":     address,
		"purpose": string(purpose),
		"iat":     now.Unix(),
		"exp":     exp.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *Sessions) Parse(raw string) (Claims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	sub, _ := mc["sub"].(string)
	purpose, _ := mc["purpose"].(string)
	exp, _ := mc["exp"].(float64)
	if sub == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Address: sub, Purpose: model.OTPPurpose(purpose), Expires: time.Unix(int64(exp), 0).UTC()}, nil
}
