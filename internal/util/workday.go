package util

import "time"

// NextWorkingDay advances t past Saturday and Sunday. A Friday night bar
// that spills over the weekend ends on the following Monday, as does the
// daily bucket owned by a Friday night session.
func NextWorkingDay(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
