package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupIndex(t *testing.T) {
	d := NewDedupIndex()

	assert.True(t, d.ShouldAccept("msg-1", "203.0.113.1"))
	d.Add("msg-1", "203.0.113.1")
	assert.False(t, d.ShouldAccept("msg-1", "203.0.113.1"))

	assert.True(t, d.ShouldAccept("msg-1", "203.0.113.2"))
	assert.True(t, d.ShouldAccept("msg-2", "203.0.113.1"))
	assert.True(t, d.ShouldAccept("msg-1", ""))

	d.Add("msg-1", "203.0.113.1")
	assert.Equal(t, 1, d.Len())

	d.Reset()
	assert.Zero(t, d.Len())
	assert.True(t, d.ShouldAccept("msg-1", "203.0.113.1"))
}

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"", ""},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", "mobile"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Mobile/15E148", "tablet"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Outlook", "desktop"},
		{"GoogleImageProxy", "desktop"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDevice(tt.ua))
		})
	}
}
