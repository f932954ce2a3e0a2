package model

type MessageStatus string

const (
	StatusQueued    MessageStatus = "QUEUED"
	StatusSending   MessageStatus = "SENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

var statusRank = map[MessageStatus]int{
	StatusQueued:    1,
	StatusSending:   2,
	StatusSent:      3,
	StatusDelivered: 4,
	StatusRead:      5,
}

// Rank orders the delivery path. FAILED and unknown values rank 0.
func (s MessageStatus) Rank() int { return statusRank[s] }

func (s MessageStatus) Valid() bool {
	return s == StatusFailed || statusRank[s] > 0
}

// Terminal reports statuses that no callback can move further.
func (s MessageStatus) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanTransition is the single rule for forward status changes.
// Dispatch owns QUEUED->SENDING->SENT; callbacks own SENT->DELIVERED->READ.
// FAILED is reachable until the gateway confirms delivery.
func CanTransition(from, to MessageStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	switch to {
	case StatusFailed:
		return from == StatusQueued || from == StatusSending || from == StatusSent
	case StatusSending:
		return from == StatusQueued
	case StatusSent:
		return from == StatusSending
	case StatusDelivered, StatusRead:
		return from.Rank() >= StatusSent.Rank() && to.Rank() > from.Rank()
	}
	return false
}

// CanRequeue covers the one backwards edge: a transient send failure hands
// the message back to the queue.
func CanRequeue(from MessageStatus) bool {
	return from == StatusSending
}

// ParseGatewayStatus maps callback status strings ("delivered", "read", ...).
func ParseGatewayStatus(s string) (MessageStatus, bool) {
	switch s {
	case "sent", "SENT":
		return StatusSent, true
	case "delivered", "DELIVERED":
		return StatusDelivered, true
	case "read", "READ":
		return StatusRead, true
	case "failed", "FAILED", "undeliverable":
		return StatusFailed, true
	}
	return "", false
}
