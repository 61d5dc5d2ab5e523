package review

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/helmsman/internal/database"
)

// metaBlobKey is the kv_blobs row holding the whole metadata map
const metaBlobKey = "position_metadata"

// PositionMeta tracks per-position state the broker does not supply: when we
// entered, the best the position has looked since, and how often its exits
// were adjusted today. Peaks only ratchet upward.
type PositionMeta struct {
	EntryTime       time.Time `msgpack:"entry_time"`
	EntryPrice      float64   `msgpack:"entry_price"`
	PeakPnLPct      float64   `msgpack:"peak_pnl_pct"`
	PeakPrice       float64   `msgpack:"peak_price"`
	AdjustmentCount int       `msgpack:"adjustment_count"`
	AdjustmentDay   string    `msgpack:"adjustment_day"` // YYYY-MM-DD the count belongs to
}

// MetaStore owns the position metadata map. The review service is its only
// writer; every mutation is persisted to cache.db as one msgpack blob so
// peaks and adjustment counts survive restarts.
type MetaStore struct {
	mu   sync.Mutex
	db   *database.DB
	meta map[string]*PositionMeta
	log  zerolog.Logger
}

// NewMetaStore creates the store and reloads any persisted metadata
func NewMetaStore(db *database.DB, log zerolog.Logger) *MetaStore {
	s := &MetaStore{
		db:   db,
		meta: make(map[string]*PositionMeta),
		log:  log.With().Str("repository", "position_meta").Logger(),
	}
	s.load()
	return s
}

func (s *MetaStore) load() {
	var blob []byte
	err := s.db.QueryRow(`SELECT value FROM kv_blobs WHERE key = ?`, metaBlobKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to load position metadata")
		return
	}
	if err := msgpack.Unmarshal(blob, &s.meta); err != nil {
		s.log.Warn().Err(err).Msg("Failed to decode position metadata, starting fresh")
		s.meta = make(map[string]*PositionMeta)
		return
	}
	s.log.Debug().Int("positions", len(s.meta)).Msg("Position metadata loaded")
}

// save persists the map; callers hold s.mu
func (s *MetaStore) save() {
	blob, err := msgpack.Marshal(s.meta)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode position metadata")
		return
	}
	_, err = s.db.Exec(`
		INSERT INTO kv_blobs (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		metaBlobKey, blob)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to persist position metadata")
	}
}

// Get returns a copy of a symbol's metadata
func (s *MetaStore) Get(symbol string) (PositionMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[strings.ToUpper(symbol)]
	if !ok {
		return PositionMeta{}, false
	}
	return *m, true
}

// RecordEntry starts fresh metadata for a newly observed position
func (s *MetaStore) RecordEntry(symbol string, entryPrice float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[strings.ToUpper(symbol)] = &PositionMeta{
		EntryTime:  at,
		EntryPrice: entryPrice,
		PeakPrice:  entryPrice,
	}
	s.save()
}

// UpdatePeaks ratchets the peak P&L and peak price, returning the values in
// effect after the update. Peaks never move down.
func (s *MetaStore) UpdatePeaks(symbol string, pnlPct, price float64) (peakPnLPct, peakPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(symbol)
	m, ok := s.meta[key]
	if !ok {
		m = &PositionMeta{PeakPnLPct: pnlPct, PeakPrice: price}
		s.meta[key] = m
		s.save()
		return m.PeakPnLPct, m.PeakPrice
	}

	changed := false
	if pnlPct > m.PeakPnLPct {
		m.PeakPnLPct = pnlPct
		changed = true
	}
	if price > m.PeakPrice {
		m.PeakPrice = price
		changed = true
	}
	if changed {
		s.save()
	}
	return m.PeakPnLPct, m.PeakPrice
}

// AdjustmentsToday returns how many exit adjustments the symbol has used on
// the given day. Counts from earlier days read as zero.
func (s *MetaStore) AdjustmentsToday(symbol string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[strings.ToUpper(symbol)]
	if !ok || m.AdjustmentDay != dayKey(now) {
		return 0
	}
	return m.AdjustmentCount
}

// RecordAdjustment counts one exit adjustment against today's allowance and
// returns the new count. A day rollover resets the count first.
func (s *MetaStore) RecordAdjustment(symbol string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(symbol)
	m, ok := s.meta[key]
	if !ok {
		m = &PositionMeta{}
		s.meta[key] = m
	}
	day := dayKey(now)
	if m.AdjustmentDay != day {
		m.AdjustmentDay = day
		m.AdjustmentCount = 0
	}
	m.AdjustmentCount++
	s.save()
	return m.AdjustmentCount
}

// Clear drops a symbol's metadata after the position is closed
func (s *MetaStore) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(symbol)
	if _, ok := s.meta[key]; !ok {
		return
	}
	delete(s.meta, key)
	s.save()
}

// Symbols lists the symbols with tracked metadata
func (s *MetaStore) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.meta))
	for key := range s.meta {
		out = append(out, key)
	}
	return out
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
