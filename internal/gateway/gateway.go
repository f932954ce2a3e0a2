// Package gateway talks to the external messaging provider: outbound sends
// and inbound delivery callbacks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

type SendRequest struct {
	// Reference is our message id; dev mode derives the fake external id from it.
	Reference string
	Phone     string
	Template  string
	Language  string
	Variables []string
}

type Sender interface {
	SendTemplate(ctx context.Context, req SendRequest) (externalID string, err error)
	SendText(ctx context.Context, phone, body string) (externalID string, err error)
}

type ErrorKind int

const (
	Transient ErrorKind = iota + 1
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Error is a classified send failure.
type Error struct {
	Kind   ErrorKind
	Status int
	Code   int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("gateway %s error: http %d: %s", e.Kind, e.Status, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err must not be retried. Unclassified errors
// are treated as transient.
func IsPermanent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == Permanent
}

func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// StatusEvent is one status update parsed from a callback.
type StatusEvent struct {
	ExternalID string
	Status     model.MessageStatus
	RawStatus  string
	Timestamp  time.Time
	Reason     string
}
