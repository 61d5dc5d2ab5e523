package market_hours

import "time"

// Easter returns Easter Sunday for a year on the Gregorian calendar,
// using the computus method.
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100

	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451

	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns the nth occurrence of a weekday in a month.
func nthWeekday(year, month int, weekday time.Weekday, n int) time.Time {
	date := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)

	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	return date.AddDate(0, 0, daysToAdd+(n-1)*7)
}

// lastWeekday returns the last occurrence of a weekday in a month.
func lastWeekday(year, month int, weekday time.Weekday) time.Time {
	date := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, time.UTC)

	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

// observeOnWeekday moves a weekend date to the nearest weekday.
func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}

// holidaysForYear expands a market's holiday rules into concrete dates.
func holidaysForYear(m *Market, year int) []time.Time {
	out := make([]time.Time, 0, len(m.Holidays.FixedDate)+len(m.Holidays.RuleBased)+len(m.Holidays.EasterBased))

	for _, h := range m.Holidays.FixedDate {
		date := time.Date(year, time.Month(h.Month), h.Day, 0, 0, 0, 0, m.Timezone)
		if h.ObserveOnWeekday {
			date = observeOnWeekday(date)
		}
		out = append(out, date)
	}

	for _, h := range m.Holidays.RuleBased {
		if h.N == -1 {
			out = append(out, lastWeekday(year, h.Month, h.Weekday))
			continue
		}
		out = append(out, nthWeekday(year, h.Month, h.Weekday, h.N))
	}

	for _, h := range m.Holidays.EasterBased {
		out = append(out, Easter(year).AddDate(0, 0, h.DaysOffset))
	}

	return out
}
