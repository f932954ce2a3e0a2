package campaign

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func schedule(r model.Recurrence, start, clock string) model.Campaign {
	return model.Campaign{
		TenantID: 1, Type: model.CampaignMarketing, TemplateID: 1,
		Recurrence: r, StartDate: day(start), StartTime: clock, Timezone: "UTC",
		Status: model.CampaignActive,
	}
}

func runFor(c model.Campaign, now time.Time) *model.CampaignRun {
	return &model.CampaignRun{CampaignID: c.ID, PeriodKey: PeriodKey(c, now), ScheduledAt: ScheduledAt(c, now)}
}

func TestPeriodKey(t *testing.T) {
	now := at("2025-03-03T10:00:00Z")
	assert.Equal(t, "once", PeriodKey(schedule(model.RecurrenceOneTime, "2025-03-01", "09:00"), now))
	assert.Equal(t, "2025-03-03", PeriodKey(schedule(model.RecurrenceDaily, "2025-03-01", "09:00"), now))
	assert.Equal(t, "2025-W10", PeriodKey(schedule(model.RecurrenceWeekly, "2025-03-01", "09:00"), now))
	assert.Equal(t, "2025-03", PeriodKey(schedule(model.RecurrenceMonthly, "2025-03-01", "09:00"), now))

	// ISO week years roll over before the calendar year does.
	assert.Equal(t, "2026-W01", PeriodKey(schedule(model.RecurrenceWeekly, "2025-03-01", "09:00"), at("2025-12-29T10:00:00Z")))
}

func TestIsDue_OneTimeFiresOnce(t *testing.T) {
	c := schedule(model.RecurrenceOneTime, "2025-03-01", "09:00")

	assert.False(t, IsDue(c, nil, at("2025-03-01T08:59:00Z")))
	now := at("2025-03-01T09:00:00Z")
	assert.True(t, IsDue(c, nil, now))

	last := runFor(c, now)
	for _, later := range []string{"2025-03-01T09:01:00Z", "2025-03-02T09:00:00Z", "2026-01-01T00:00:00Z"} {
		assert.False(t, IsDue(c, last, at(later)), later)
	}
	// A one-time campaign whose slot passed while nobody looked still fires.
	assert.True(t, IsDue(c, nil, at("2025-03-04T12:00:00Z")))
}

func TestIsDue_Daily(t *testing.T) {
	end := day("2025-03-05")
	c := schedule(model.RecurrenceDaily, "2025-03-01", "09:00")
	c.EndDate = &end

	assert.False(t, IsDue(c, nil, at("2025-02-28T10:00:00Z")), "before start date")
	assert.False(t, IsDue(c, nil, at("2025-03-02T08:59:59Z")), "before start time")

	now := at("2025-03-02T09:00:00Z")
	assert.True(t, IsDue(c, nil, now))
	last := runFor(c, now)
	assert.False(t, IsDue(c, last, at("2025-03-02T18:00:00Z")), "same day")
	assert.False(t, IsDue(c, last, at("2025-03-03T08:00:00Z")), "next day before slot")
	assert.True(t, IsDue(c, last, at("2025-03-03T09:00:00Z")), "next day at slot")

	assert.True(t, IsDue(c, last, at("2025-03-05T23:59:00Z")), "last day")
	assert.False(t, IsDue(c, last, at("2025-03-06T09:00:00Z")), "after end date")
}

func TestIsDue_Weekly(t *testing.T) {
	c := schedule(model.RecurrenceWeekly, "2025-03-03", "09:00") // Monday

	assert.True(t, IsDue(c, nil, at("2025-03-03T09:30:00Z")))
	last := runFor(c, at("2025-03-03T09:30:00Z"))
	assert.False(t, IsDue(c, last, at("2025-03-04T09:30:00Z")), "tuesday")
	assert.False(t, IsDue(c, last, at("2025-03-09T09:30:00Z")), "sunday")
	assert.True(t, IsDue(c, last, at("2025-03-10T09:00:00Z")), "next monday")
}

func TestIsDue_MonthlyCapsToMonthEnd(t *testing.T) {
	c := schedule(model.RecurrenceMonthly, "2025-01-31", "09:00")
	last := runFor(c, at("2025-01-31T09:00:00Z"))

	assert.False(t, IsDue(c, last, at("2025-02-27T09:00:00Z")))
	assert.True(t, IsDue(c, last, at("2025-02-28T09:00:00Z")))

	last = runFor(c, at("2025-02-28T09:00:00Z"))
	assert.False(t, IsDue(c, last, at("2025-03-28T09:00:00Z")))
	assert.False(t, IsDue(c, last, at("2025-03-30T09:00:00Z")))
	assert.True(t, IsDue(c, last, at("2025-03-31T09:00:00Z")))
	assert.True(t, IsDue(c, runFor(c, at("2025-03-31T09:00:00Z")), at("2025-04-30T09:00:00Z")))
}

func TestIsDue_Timezone(t *testing.T) {
	c := schedule(model.RecurrenceDaily, "2025-03-01", "09:00")
	c.Timezone = "Asia/Kolkata"

	assert.False(t, IsDue(c, nil, at("2025-03-01T03:29:00Z")))
	assert.True(t, IsDue(c, nil, at("2025-03-01T03:30:00Z")))

	late := at("2025-03-01T20:00:00Z") // 01:30 next day in India
	assert.Equal(t, "2025-03-02", PeriodKey(c, late))
	assert.False(t, IsDue(c, runFor(c, at("2025-03-01T03:30:00Z")), late))
	assert.Equal(t, at("2025-03-02T03:30:00Z"), ScheduledAt(c, late))
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	c := schedule(model.RecurrenceDaily, "2025-03-01", "09:00")
	c.Timezone = "Mars/Olympus_Mons"

	assert.Equal(t, time.UTC, c.Location())
	assert.True(t, IsDue(c, nil, at("2025-03-01T09:00:00Z")))
}

func TestExpired(t *testing.T) {
	end := day("2025-03-05")
	c := schedule(model.RecurrenceDaily, "2025-03-01", "09:00")
	assert.False(t, Expired(c, at("2030-01-01T00:00:00Z")), "no end date")

	c.EndDate = &end
	assert.False(t, Expired(c, at("2025-03-05T23:59:59Z")))
	assert.True(t, Expired(c, at("2025-03-06T00:00:00Z")))
}
