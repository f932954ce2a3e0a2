package campaign

import (
	"fmt"
	"time"

	"github.com/Mutter0815/tenantcast/pkg/model"
)

const oneTimeKey = "once"

// PeriodKey names the recurrence window now falls into, in the campaign's
// timezone. At most one run exists per key.
func PeriodKey(c model.Campaign, now time.Time) string {
	local := now.In(c.Location())
	switch c.Recurrence {
	case model.RecurrenceDaily:
		return local.Format("2006-01-02")
	case model.RecurrenceWeekly:
		y, w := local.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case model.RecurrenceMonthly:
		return local.Format("2006-01")
	}
	return oneTimeKey
}

// Expired reports whether now is past the end of the campaign's end date.
func Expired(c model.Campaign, now time.Time) bool {
	if c.EndDate == nil {
		return false
	}
	loc := c.Location()
	y, m, d := c.EndDate.Date()
	return !now.In(loc).Before(time.Date(y, m, d+1, 0, 0, 0, 0, loc))
}

// IsDue decides whether the campaign should fire at now given its most
// recent run. It is pure: lifecycle status is the caller's concern.
func IsDue(c model.Campaign, last *model.CampaignRun, now time.Time) bool {
	if Expired(c, now) {
		return false
	}
	loc := c.Location()
	local := now.In(loc)
	start := startAt(c)
	if local.Before(start) {
		return false
	}

	if c.Recurrence == model.RecurrenceOneTime {
		return last == nil
	}
	if last != nil && last.PeriodKey == PeriodKey(c, now) {
		return false
	}
	if local.Before(slotOn(c, local)) {
		return false
	}

	switch c.Recurrence {
	case model.RecurrenceDaily:
		return true
	case model.RecurrenceWeekly:
		return local.Weekday() == start.Weekday()
	case model.RecurrenceMonthly:
		return local.Day() == anchorDay(start.Day(), local.Year(), local.Month())
	}
	return false
}

// ScheduledAt is the slot the run for now's period belongs to.
func ScheduledAt(c model.Campaign, now time.Time) time.Time {
	if c.Recurrence == model.RecurrenceOneTime {
		return startAt(c).UTC()
	}
	return slotOn(c, now.In(c.Location())).UTC()
}

func startAt(c model.Campaign) time.Time {
	y, m, d := c.StartDate.Date()
	h, mi := c.ClockTime()
	return time.Date(y, m, d, h, mi, 0, 0, c.Location())
}

func slotOn(c model.Campaign, local time.Time) time.Time {
	h, mi := c.ClockTime()
	return time.Date(local.Year(), local.Month(), local.Day(), h, mi, 0, 0, local.Location())
}

// anchorDay caps day to the length of the given month, so a campaign
// anchored on the 31st fires on the 30th or 28th/29th in shorter months.
func anchorDay(day, year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
