package trail

import "time"

// Window is a one-hour harvest window. Start is the top of an hour in the
// configured local timezone; End is exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// HourWindow builds the window for hour of the given calendar date in loc.
func HourWindow(date time.Time, hour int, loc *time.Location) Window {
	start := time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, loc)
	return Window{Start: start, End: start.Add(time.Hour)}
}
