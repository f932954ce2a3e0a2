package model

import "time"

type Message struct {
	ID           int64
	TenantID     int64
	ContactID    int64
	CampaignID   *int64
	RunID        *int64
	Phone        string
	TemplateName string
	Language     string
	Variables    []string
	ExternalID   *string
	Status       MessageStatus
	FailReason   string
	RetryCount   int
	QueuedAt     time.Time
	SendingAt    *time.Time
	SentAt       *time.Time
	DeliveredAt  *time.Time
	ReadAt       *time.Time
	FailedAt     *time.Time
	UpdatedAt    time.Time
}
