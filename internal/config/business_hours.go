package config

import (
	"fmt"
	"time"
	_ "time/tzdata" // zone data for BUSINESS_TIMEZONE on minimal images
)

// BusinessHours is the daily delivery window plus the minimum lead time
// between confirmation and delivery.
type BusinessHours struct {
	Location    *time.Location
	Open        time.Duration // offset from local midnight
	Close       time.Duration
	MinLeadTime time.Duration
}

func NewBusinessHours(tz, open, close string, lead time.Duration) (BusinessHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}
	o, err := parseClock(open)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("BUSINESS_HOURS_OPEN: %w", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("BUSINESS_HOURS_CLOSE: %w", err)
	}
	if o >= c {
		return BusinessHours{}, fmt.Errorf("business hours: open %s must be before close %s", open, close)
	}
	if lead < 0 {
		return BusinessHours{}, fmt.Errorf("MIN_LEAD_TIME must be >= 0")
	}
	return BusinessHours{Location: loc, Open: o, Close: c, MinLeadTime: lead}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Within reports whether t falls inside the window in the business time zone.
// Both ends are inclusive: 22:00:00 is accepted, 22:00:01 is not.
func (b BusinessHours) Within(t time.Time) bool {
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	off := time.Duration(lt.Hour())*time.Hour +
		time.Duration(lt.Minute())*time.Minute +
		time.Duration(lt.Second())*time.Second +
		time.Duration(lt.Nanosecond())
	return off >= b.Open && off <= b.Close
}

// LeadTimeOK reports whether t is at least MinLeadTime after now.
func (b BusinessHours) LeadTimeOK(t, now time.Time) bool {
	return !t.Before(now.Add(b.MinLeadTime))
}

func (b BusinessHours) String() string {
	return fmt.Sprintf("%s-%s %s", clock(b.Open), clock(b.Close), b.Location)
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// OpenClock and CloseClock render the window ends as HH:MM.
func (b BusinessHours) OpenClock() string  { return clock(b.Open) }
func (b BusinessHours) CloseClock() string { return clock(b.Close) }
