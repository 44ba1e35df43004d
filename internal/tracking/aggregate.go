package tracking

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
)

// Stats computes the aggregate counters from the current views.
func (s *Store) Stats() Stats {
	s.sentMu.RLock()
	defer s.sentMu.RUnlock()
	s.openMu.RLock()
	defer s.openMu.RUnlock()

	return s.statsLocked()
}

// statsLocked requires both read locks.
func (s *Store) statsLocked() Stats {
	st := Stats{
		TotalSent:    len(s.sent),
		TotalOpened:  len(s.opens),
		UniqueOpened: len(s.byTracking),
	}
	st.OpenRate = openRate(st.UniqueOpened, st.TotalSent)
	return st
}

// openRate is unique/sent as a percentage with two decimals; 0 when
// nothing was sent.
func openRate(unique, sent int) float64 {
	if sent == 0 {
		return 0
	}
	return math.Round(float64(unique)/float64(sent)*100*100) / 100
}

// Report builds the per-message breakdown plus the most recent opens.
// Opens for unknown tracking ids appear only in RecentOpens.
func (s *Store) Report() Report {
	s.sentMu.RLock()
	defer s.sentMu.RUnlock()
	s.openMu.RLock()
	defer s.openMu.RUnlock()

	messages := lo.Map(s.sentOrder, func(id string, _ int) MessageReport {
		rec := s.sent[id]
		opens := s.byTracking[id]
		first, last := openBounds(opens)
		return MessageReport{
			ID:            rec.ID,
			Recipient:     rec.Recipient,
			Subject:       rec.Subject,
			Campaign:      rec.Campaign,
			SentAt:        rec.SentAt,
			OpenCount:     len(opens),
			FirstOpenedAt: first,
			LastOpenedAt:  last,
		}
	})
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.After(messages[j].SentAt)
	})

	return Report{
		GeneratedAt: s.now().UTC(),
		Summary:     s.statsLocked(),
		Messages:    messages,
		RecentOpens: s.recentOpensLocked(s.recentLimit),
	}
}

// GetAllTracked lists every sent record with its open summary, newest first.
func (s *Store) GetAllTracked() []TrackedMessage {
	s.sentMu.RLock()
	defer s.sentMu.RUnlock()
	s.openMu.RLock()
	defer s.openMu.RUnlock()

	out := lo.Map(s.sentOrder, func(id string, _ int) TrackedMessage {
		opens := s.byTracking[id]
		_, last := openBounds(opens)
		return TrackedMessage{
			SentRecord:   s.sent[id],
			Opened:       len(opens) > 0,
			OpenCount:    len(opens),
			LastOpenedAt: last,
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	return out
}

// recentOpensLocked returns up to limit opens, most recent first.
func (s *Store) recentOpensLocked(limit int) []OpenRecord {
	// Reversed first so equal timestamps keep latest-inserted first.
	recent := make([]OpenRecord, 0, len(s.opens))
	for i := len(s.opens) - 1; i >= 0; i-- {
		recent = append(recent, s.opens[i])
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].ObservedAt.After(recent[j].ObservedAt)
	})
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

// openBounds returns the earliest and latest ObservedAt, nil for no opens.
func openBounds(opens []OpenRecord) (first, last *time.Time) {
	if len(opens) == 0 {
		return nil, nil
	}
	earliest := lo.MinBy(opens, func(a, b OpenRecord) bool {
		return a.ObservedAt.Before(b.ObservedAt)
	})
	latest := lo.MaxBy(opens, func(a, b OpenRecord) bool {
		return a.ObservedAt.After(b.ObservedAt)
	})
	return &earliest.ObservedAt, &latest.ObservedAt
}
