package detect

import (
	"context"
	"time"
)

// TimezoneSource resolves a user's IANA timezone. Empty or unknown
// timezones fall back to UTC.
type TimezoneSource interface {
	Timezone(ctx context.Context, userID string) (string, error)
}

// BusinessHoursCalendar is a CalendarSource derived from configured
// working hours: a user is busy outside [startHour, endHour) in their own
// timezone, and the next free window is the next business-hours start.
// It stands in when no external calendar integration is configured.
type BusinessHoursCalendar struct {
	startHour int
	endHour   int
	zones     TimezoneSource
}

func NewBusinessHoursCalendar(startHour, endHour int, zones TimezoneSource) *BusinessHoursCalendar {
	return &BusinessHoursCalendar{startHour: startHour, endHour: endHour, zones: zones}
}

func (c *BusinessHoursCalendar) location(ctx context.Context, userID string) *time.Location {
	if c.zones == nil {
		return time.UTC
	}
	tz, err := c.zones.Timezone(ctx, userID)
	if err != nil || tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *BusinessHoursCalendar) within(t time.Time) bool {
	h := t.Hour()
	return h >= c.startHour && h < c.endHour
}

// Busy reports a conflict when the start of the window falls outside
// business hours in the user's timezone.
func (c *BusinessHoursCalendar) Busy(ctx context.Context, userID string, start, _ time.Time) (bool, error) {
	loc := c.location(ctx, userID)
	return !c.within(start.In(loc)), nil
}

// NextFreeWindow returns the next business-hours start at or after the
// given time.
func (c *BusinessHoursCalendar) NextFreeWindow(ctx context.Context, userID string, after time.Time) (time.Time, bool, error) {
	local := after.In(c.location(ctx, userID))
	if c.within(local) {
		return after, true, nil
	}

	next := time.Date(local.Year(), local.Month(), local.Day(), c.startHour, 0, 0, 0, local.Location())
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next, true, nil
}

var _ CalendarSource = (*BusinessHoursCalendar)(nil)
