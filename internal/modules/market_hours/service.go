package market_hours

import (
	"fmt"
	"sync"
	"time"
)

// Service answers market-session questions. It is safe for concurrent use;
// expanded holiday calendars are cached per market and year.
type Service struct {
	mu       sync.Mutex
	holidays map[string][]time.Time
}

// NewService creates a new market hours service
func NewService() *Service {
	return &Service{
		holidays: make(map[string][]time.Time),
	}
}

// IsOpen reports whether a market is in its regular session at t. Weekends,
// holidays and early-close afternoons count as closed.
func (s *Service) IsOpen(market string, t time.Time) bool {
	m := Get(market)
	if m == nil {
		return false
	}

	local := t.In(m.Timezone)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	if s.isHoliday(m, local) {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(),
		m.Hours.OpenHour, m.Hours.OpenMinute, 0, 0, m.Timezone)
	close := s.closeFor(m, local)

	return !local.Before(open) && local.Before(close)
}

// MinutesUntilClose returns how many minutes of the session remain. The
// second return is false when the market is closed at t.
func (s *Service) MinutesUntilClose(market string, t time.Time) (float64, bool) {
	if !s.IsOpen(market, t) {
		return 0, false
	}
	m := Get(market)
	local := t.In(m.Timezone)
	return s.closeFor(m, local).Sub(local).Minutes(), true
}

// IsNearClose reports whether t falls within the last minutesBefore minutes
// of an open session. This is the flatten window.
func (s *Service) IsNearClose(market string, minutesBefore int, t time.Time) bool {
	if minutesBefore <= 0 {
		return false
	}
	remaining, open := s.MinutesUntilClose(market, t)
	return open && remaining <= float64(minutesBefore)
}

// NextOpen returns the next session start at or after t. The second return
// is false when no session is found within the lookahead.
func (s *Service) NextOpen(market string, t time.Time) (time.Time, bool) {
	m := Get(market)
	if m == nil {
		return time.Time{}, false
	}

	local := t.In(m.Timezone)
	for i := 0; i < 10; i++ {
		day := local.AddDate(0, 0, i)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		if s.isHoliday(m, day) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(),
			m.Hours.OpenHour, m.Hours.OpenMinute, 0, 0, m.Timezone)
		if i == 0 && !local.Before(open) {
			continue
		}
		return open, true
	}
	return time.Time{}, false
}

// OpenMarkets filters the given market codes down to those open at t.
func (s *Service) OpenMarkets(codes []string, t time.Time) []string {
	open := make([]string, 0, len(codes))
	for _, code := range codes {
		if s.IsOpen(code, t) {
			open = append(open, code)
		}
	}
	return open
}

// Status returns the dashboard view of one market at t.
func (s *Service) Status(market string, t time.Time) (*MarketStatus, error) {
	m := Get(market)
	if m == nil {
		return nil, fmt.Errorf("unknown market: %s", market)
	}

	local := t.In(m.Timezone)
	status := &MarketStatus{
		Market:   m.Code,
		Open:     s.IsOpen(market, t),
		Timezone: m.Timezone.String(),
	}

	if status.Open {
		status.ClosesAt = s.closeFor(m, local).Format("15:04")
		return status, nil
	}

	if next, ok := s.NextOpen(market, t); ok {
		status.OpensAt = next.Format("15:04")
		if next.YearDay() != local.YearDay() || next.Year() != local.Year() {
			status.OpensDate = next.Format("2006-01-02")
		}
	}
	return status, nil
}

// closeFor returns the session close for the day of local, honouring early
// closes.
func (s *Service) closeFor(m *Market, local time.Time) time.Time {
	for _, rule := range m.EarlyCloses {
		if rule.Matches != nil && rule.Matches(local) {
			return time.Date(local.Year(), local.Month(), local.Day(),
				rule.CloseHour, rule.CloseMinute, 0, 0, m.Timezone)
		}
	}
	return time.Date(local.Year(), local.Month(), local.Day(),
		m.Hours.CloseHour, m.Hours.CloseMinute, 0, 0, m.Timezone)
}

func (s *Service) isHoliday(m *Market, local time.Time) bool {
	key := fmt.Sprintf("%s-%d", m.Code, local.Year())

	s.mu.Lock()
	days, ok := s.holidays[key]
	if !ok {
		days = holidaysForYear(m, local.Year())
		s.holidays[key] = days
	}
	s.mu.Unlock()

	date := local.Format("2006-01-02")
	for _, h := range days {
		if h.Format("2006-01-02") == date {
			return true
		}
	}
	return false
}
