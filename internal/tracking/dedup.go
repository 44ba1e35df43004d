package tracking

// dedupKey has no user agent: two clients behind one IP count once.
type dedupKey struct {
	trackingID string
	ip         string
}

// DedupIndex answers whether a (tracking id, ip) pair has already produced
// an open. It is not synchronized; Store guards it with the open-view lock.
type DedupIndex struct {
	seen map[dedupKey]struct{}
}

// NewDedupIndex returns an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{seen: make(map[dedupKey]struct{})}
}

// ShouldAccept reports whether no open exists yet for the pair.
func (d *DedupIndex) ShouldAccept(trackingID, ip string) bool {
	_, ok := d.seen[dedupKey{trackingID, ip}]
	return !ok
}

// Add marks the pair as seen.
func (d *DedupIndex) Add(trackingID, ip string) {
	d.seen[dedupKey{trackingID, ip}] = struct{}{}
}

// Len returns the number of distinct pairs.
func (d *DedupIndex) Len() int { return len(d.seen) }

// Reset drops every pair.
func (d *DedupIndex) Reset() {
	d.seen = make(map[dedupKey]struct{})
}
