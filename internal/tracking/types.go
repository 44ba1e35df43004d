package tracking

import "time"

// SentInput is the caller-supplied body of a "record sent" request.
type SentInput struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient,omitempty"`
	SentAt    *time.Time     `json:"sentAt,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Campaign  string         `json:"campaign,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SentRecord marks that a message carrying a tracking id was dispatched.
// Immutable once stored.
type SentRecord struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Campaign  string         `json:"campaign,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SentAt    time.Time      `json:"sentAt"`
	ClientIP  string         `json:"clientIP,omitempty"`
}

// OpenRecord marks that the tracking pixel of a message was fetched.
// EventID is informational; dedup is keyed on (TrackingID, IPAddress).
type OpenRecord struct {
	EventID    string            `json:"eventId,omitempty"`
	TrackingID string            `json:"trackingId"`
	ObservedAt time.Time         `json:"observedAt"`
	UserAgent  string            `json:"userAgent,omitempty"`
	IPAddress  string            `json:"ipAddress,omitempty"`
	Referer    string            `json:"referer,omitempty"`
	DeviceType string            `json:"deviceType,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// ObserverContext describes whoever fetched the pixel.
type ObserverContext struct {
	IPAddress string
	UserAgent string
	Referer   string
	Headers   map[string]string
}

// OpenResult is the internal outcome of RecordOpen. It is logged, never
// shown to the remote party.
type OpenResult int

const (
	// OpenRecorded: accepted, added to the views and persisted.
	OpenRecorded OpenResult = iota
	// OpenRejected: the (tracking id, ip) pair was already recorded.
	OpenRejected
	// OpenFailed: invalid input, or accepted in memory but the append failed.
	OpenFailed
)

func (r OpenResult) String() string {
	switch r {
	case OpenRecorded:
		return "recorded"
	case OpenRejected:
		return "rejected"
	case OpenFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TrackingStatus is the point view of one tracking id.
type TrackingStatus struct {
	TrackingID    string       `json:"trackingId"`
	Sent          *SentRecord  `json:"sent"`
	Opened        bool         `json:"opened"`
	OpenCount     int          `json:"openCount"`
	FirstOpenedAt *time.Time   `json:"firstOpenedAt"`
	LastOpenedAt  *time.Time   `json:"lastOpenedAt"`
	Opens         []OpenRecord `json:"opens"`
}

// TrackedMessage is one sent record with its open summary.
type TrackedMessage struct {
	SentRecord
	Opened       bool       `json:"opened"`
	OpenCount    int        `json:"openCount"`
	LastOpenedAt *time.Time `json:"lastOpenedAt"`
}

// Stats are aggregate counters, recomputed on every read.
type Stats struct {
	TotalSent    int     `json:"totalSent"`
	TotalOpened  int     `json:"totalOpened"`
	UniqueOpened int     `json:"uniqueOpened"`
	OpenRate     float64 `json:"openRate"`
}

// MessageReport is the per-message line of a Report.
type MessageReport struct {
	ID            string     `json:"id"`
	Recipient     string     `json:"recipient,omitempty"`
	Subject       string     `json:"subject,omitempty"`
	Campaign      string     `json:"campaign,omitempty"`
	SentAt        time.Time  `json:"sentAt"`
	OpenCount     int        `json:"openCount"`
	FirstOpenedAt *time.Time `json:"firstOpenedAt"`
	LastOpenedAt  *time.Time `json:"lastOpenedAt"`
}

// Report combines Stats, a per-message breakdown and the latest opens.
type Report struct {
	GeneratedAt time.Time       `json:"generatedAt"`
	Summary     Stats           `json:"summary"`
	Messages    []MessageReport `json:"messages"`
	RecentOpens []OpenRecord    `json:"recentOpens"`
}
