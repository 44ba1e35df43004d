package tracking

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ignite/open-tracker/internal/pkg/logger"
)

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultRecentLimit    = 10
)

// EventLog is the durable side of a view: *eventlog.Log[T] in production.
type EventLog[T any] interface {
	Append(ctx context.Context, rec T) error
	LoadAll() ([]T, int, error)
	Clear() error
}

// StoreOptions tunes a Store. Zero values pick defaults.
type StoreOptions struct {
	// WriteTimeout bounds each log append.
	WriteTimeout time.Duration
	// PublishTimeout bounds each publisher call.
	PublishTimeout time.Duration
	// ReportRecentLimit is the number of trailing opens in Report.
	ReportRecentLimit int
	// Publishers receive every accepted event, asynchronously.
	Publishers []Publisher
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store owns the sent and open views and their logs.
//
// Locking: sentMu guards the sent view; openMu guards the open view and the
// dedup index together. Anything needing both takes sentMu first. A view
// mutation and its log append happen under the same write lock, so log order
// matches view order and ClearAll cannot interleave between the two.
//
// Persistence is best-effort relative to memory: the view is updated first
// and an append failure is logged without rollback. A crash between the two
// loses that event.
type Store struct {
	sentLog EventLog[SentRecord]
	openLog EventLog[OpenRecord]

	sentMu    sync.RWMutex
	sent      map[string]SentRecord
	sentOrder []string

	openMu     sync.RWMutex
	opens      []OpenRecord
	byTracking map[string][]OpenRecord
	dedup      *DedupIndex

	writeTimeout   time.Duration
	publishTimeout time.Duration
	recentLimit    int
	publishers     []Publisher
	now            func() time.Time

	inflight sync.WaitGroup
}

// LoadResult summarizes a replay of the logs.
type LoadResult struct {
	Sent    int
	Opens   int
	Skipped int
}

// NewStore returns an empty store over the given logs. Call Load to replay
// existing records.
func NewStore(sentLog EventLog[SentRecord], openLog EventLog[OpenRecord], opts StoreOptions) *Store {
	s := &Store{
		sentLog:        sentLog,
		openLog:        openLog,
		sent:           make(map[string]SentRecord),
		byTracking:     make(map[string][]OpenRecord),
		dedup:          NewDedupIndex(),
		writeTimeout:   opts.WriteTimeout,
		publishTimeout: opts.PublishTimeout,
		recentLimit:    opts.ReportRecentLimit,
		publishers:     opts.Publishers,
		now:            opts.Now,
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = defaultPublishTimeout
	}
	if s.recentLimit <= 0 {
		s.recentLimit = defaultRecentLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Load replaces the views with the contents of both logs, in append order.
// Corrupt lines are skipped. A repeated sent id keeps its first record and
// a repeated (tracking id, ip) pair keeps its first open.
func (s *Store) Load() (LoadResult, error) {
	sentRecs, skippedSent, err := s.sentLog.LoadAll()
	if err != nil {
		return LoadResult{}, fmt.Errorf("%w: load sent log: %w", ErrPersistence, err)
	}
	openRecs, skippedOpens, err := s.openLog.LoadAll()
	if err != nil {
		return LoadResult{}, fmt.Errorf("%w: load open log: %w", ErrPersistence, err)
	}

	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.resetLocked()
	res := LoadResult{Skipped: skippedSent + skippedOpens}

	for _, rec := range sentRecs {
		if rec.ID == "" {
			res.Skipped++
			continue
		}
		if _, dup := s.sent[rec.ID]; dup {
			continue
		}
		s.sent[rec.ID] = rec
		s.sentOrder = append(s.sentOrder, rec.ID)
		res.Sent++
	}
	for _, rec := range openRecs {
		if rec.TrackingID == "" {
			res.Skipped++
			continue
		}
		if !s.dedup.ShouldAccept(rec.TrackingID, rec.IPAddress) {
			continue
		}
		s.insertOpenLocked(rec)
		res.Opens++
	}

	logger.Info("tracking: store loaded",
		"sent", res.Sent, "opens", res.Opens, "skipped", res.Skipped, "dedup_keys", s.dedup.Len())
	return res, nil
}

// RecordSent stores a sent record. A repeated id is an idempotent no-op:
// the first record is returned and created is false.
func (s *Store) RecordSent(ctx context.Context, in SentInput, clientIP string) (rec SentRecord, created bool, err error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return SentRecord{}, false, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	s.sentMu.Lock()
	if existing, ok := s.sent[id]; ok {
		s.sentMu.Unlock()
		logger.Warn("tracking: duplicate sent id ignored", "tracking_id", id)
		return existing, false, nil
	}

	rec = SentRecord{
		ID:        id,
		Recipient: strings.TrimSpace(in.Recipient),
		Subject:   in.Subject,
		Campaign:  in.Campaign,
		Metadata:  maps.Clone(in.Metadata),
		ClientIP:  clientIP,
	}
	if in.SentAt != nil && !in.SentAt.IsZero() {
		rec.SentAt = in.SentAt.UTC()
	} else {
		rec.SentAt = s.now().UTC()
	}

	s.sent[id] = rec
	s.sentOrder = append(s.sentOrder, id)
	appendErr := s.appendSent(ctx, rec)
	s.sentMu.Unlock()

	if appendErr != nil {
		logger.Error("tracking: sent append failed", "tracking_id", id, "error", appendErr)
	}
	logger.Info("tracking: sent recorded", "tracking_id", id, "recipient", rec.Recipient)

	s.publish(TrackingEvent{
		EventID:    uuid.NewString(),
		EventType:  EventSent,
		TrackingID: id,
		Recipient:  rec.Recipient,
		Campaign:   rec.Campaign,
		IPAddress:  clientIP,
		Timestamp:  rec.SentAt,
	})
	return rec, true, nil
}

// RecordOpen records a pixel fetch. Unknown tracking ids are recorded too.
// The result is for logging only; callers at the HTTP edge ignore it.
func (s *Store) RecordOpen(ctx context.Context, trackingID string, obs ObserverContext) (OpenResult, error) {
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return OpenFailed, fmt.Errorf("%w: tracking id is required", ErrInvalidInput)
	}

	s.sentMu.RLock()
	sent, known := s.sent[trackingID]
	s.sentMu.RUnlock()
	if !known {
		logger.Warn("tracking: open for unknown tracking id", "tracking_id", trackingID, "ip", obs.IPAddress)
	}

	s.openMu.Lock()
	if !s.dedup.ShouldAccept(trackingID, obs.IPAddress) {
		s.openMu.Unlock()
		logger.Debug("tracking: duplicate open ignored", "tracking_id", trackingID, "ip", obs.IPAddress)
		return OpenRejected, nil
	}

	// Stamped under the lock so the open view stays ordered by ObservedAt.
	rec := OpenRecord{
		EventID:    uuid.NewString(),
		TrackingID: trackingID,
		ObservedAt: s.now().UTC(),
		UserAgent:  obs.UserAgent,
		IPAddress:  obs.IPAddress,
		Referer:    obs.Referer,
		DeviceType: detectDevice(obs.UserAgent),
		Headers:    maps.Clone(obs.Headers),
	}
	s.insertOpenLocked(rec)
	appendErr := s.appendOpen(ctx, rec)
	s.openMu.Unlock()

	s.publish(TrackingEvent{
		EventID:    rec.EventID,
		EventType:  EventOpened,
		TrackingID: trackingID,
		Recipient:  sent.Recipient,
		Campaign:   sent.Campaign,
		IPAddress:  rec.IPAddress,
		UserAgent:  rec.UserAgent,
		DeviceType: rec.DeviceType,
		Referer:    rec.Referer,
		Timestamp:  rec.ObservedAt,
	})

	if appendErr != nil {
		logger.Error("tracking: open append failed", "tracking_id", trackingID, "error", appendErr)
		return OpenFailed, fmt.Errorf("%w: %w", ErrPersistence, appendErr)
	}
	logger.Info("tracking: open recorded", "tracking_id", trackingID, "ip", rec.IPAddress, "device", rec.DeviceType)
	return OpenRecorded, nil
}

// GetTrackingStatus returns the sent record and opens for id.
func (s *Store) GetTrackingStatus(id string) (TrackingStatus, error) {
	id = strings.TrimSpace(id)

	s.sentMu.RLock()
	defer s.sentMu.RUnlock()
	s.openMu.RLock()
	defer s.openMu.RUnlock()

	sent, known := s.sent[id]
	opens := s.byTracking[id]
	if !known && len(opens) == 0 {
		return TrackingStatus{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	status := TrackingStatus{
		TrackingID: id,
		Opened:     len(opens) > 0,
		OpenCount:  len(opens),
		Opens:      append([]OpenRecord{}, opens...),
	}
	if known {
		status.Sent = &sent
	}
	status.FirstOpenedAt, status.LastOpenedAt = openBounds(opens)
	return status, nil
}

// GetRecentOpens returns the opens observed within window of now.
func (s *Store) GetRecentOpens(window time.Duration) []OpenRecord {
	cutoff := s.now().Add(-window)

	s.openMu.RLock()
	defer s.openMu.RUnlock()

	return lo.Filter(s.opens, func(o OpenRecord, _ int) bool {
		return !o.ObservedAt.Before(cutoff)
	})
}

// ClearAll truncates both logs and empties every view while holding both
// write locks. Views are reset even if a truncate fails.
func (s *Store) ClearAll(ctx context.Context) error {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	s.openMu.Lock()
	defer s.openMu.Unlock()

	err := errors.Join(s.sentLog.Clear(), s.openLog.Clear())
	sent, opens := len(s.sent), len(s.opens)
	s.resetLocked()

	if err != nil {
		logger.Error("tracking: clear failed to truncate logs", "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	logger.Info("tracking: all data cleared", "sent", sent, "opens", opens)
	return nil
}

// Shutdown waits for in-flight publishes to finish or ctx to expire.
func (s *Store) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) resetLocked() {
	s.sent = make(map[string]SentRecord)
	s.sentOrder = nil
	s.opens = nil
	s.byTracking = make(map[string][]OpenRecord)
	s.dedup.Reset()
}

func (s *Store) insertOpenLocked(rec OpenRecord) {
	s.dedup.Add(rec.TrackingID, rec.IPAddress)
	s.opens = append(s.opens, rec)
	s.byTracking[rec.TrackingID] = append(s.byTracking[rec.TrackingID], rec)
}

// appendSent and appendOpen detach from the request context: a client that
// hangs up after the view update must not skip the append.
func (s *Store) appendSent(ctx context.Context, rec SentRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	return s.sentLog.Append(ctx, rec)
}

func (s *Store) appendOpen(ctx context.Context, rec OpenRecord) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	return s.openLog.Append(ctx, rec)
}

func (s *Store) publish(evt TrackingEvent) {
	for _, p := range s.publishers {
		s.inflight.Add(1)
		go func(p Publisher) {
			defer s.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
			defer cancel()
			if err := p.Publish(ctx, evt); err != nil {
				logger.Error("tracking: publish failed",
					"publisher", p.Name(), "event_type", evt.EventType, "tracking_id", evt.TrackingID, "error", err)
			}
		}(p)
	}
}
