package model

import (
	"errors"
	"strings"
	"time"
)

type CampaignType string

const (
	CampaignUtility   CampaignType = "UTILITY"
	CampaignMarketing CampaignType = "MARKETING"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

type Recurrence string

const (
	RecurrenceOneTime Recurrence = "ONE_TIME"
	RecurrenceDaily   Recurrence = "DAILY"
	RecurrenceWeekly  Recurrence = "WEEKLY"
	RecurrenceMonthly Recurrence = "MONTHLY"
)

var ErrSubSegmentRequired = errors.New("sub-segment is required for utility campaigns")

// Campaign is a configured, possibly recurring messaging intent of one tenant.
//
// StartDate and EndDate carry only the calendar date; StartTime is the
// local clock time ("15:04") in Timezone.
type Campaign struct {
	ID         int64
	TenantID   int64
	Name       string
	Type       CampaignType
	SubSegment *string
	TemplateID int64
	Recurrence Recurrence
	StartDate  time.Time
	StartTime  string
	EndDate    *time.Time
	Timezone   string
	Status     CampaignStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c Campaign) Validate() error {
	if c.Type == CampaignUtility && (c.SubSegment == nil || strings.TrimSpace(*c.SubSegment) == "") {
		return ErrSubSegmentRequired
	}
	return nil
}

// Location resolves the campaign timezone, falling back to UTC.
func (c Campaign) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ClockTime parses StartTime into hour and minute. Malformed values read as midnight.
func (c Campaign) ClockTime() (hour, minute int) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.StartTime))
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// RunCounter names an atomically incremented counter column of a run.
type RunCounter string

const (
	CounterQueued    RunCounter = "messages_queued"
	CounterSent      RunCounter = "messages_sent"
	CounterDelivered RunCounter = "messages_delivered"
	CounterRead      RunCounter = "messages_read"
	CounterFailed    RunCounter = "messages_failed"
)

type CampaignRun struct {
	ID                int64
	CampaignID        int64
	TenantID          int64
	PeriodKey         string
	ScheduledAt       time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	Status            RunStatus
	ErrorNote         string
	TotalContacts     int
	EligibleContacts  int
	MessagesQueued    int
	MessagesSent      int
	MessagesDelivered int
	MessagesRead      int
	MessagesFailed    int
}
