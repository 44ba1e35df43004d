package tracking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsEmptyStore(t *testing.T) {
	env := newTestEnv(t)

	stats := env.store.Stats()
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, stats.OpenRate)
}

func TestStatsCounts(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "a")
	env.send(t, "b")
	env.send(t, "c")
	env.openFrom(t, "a", "203.0.113.1")
	env.openFrom(t, "a", "203.0.113.2")
	env.openFrom(t, "b", "203.0.113.1")

	stats := env.store.Stats()
	assert.Equal(t, 3, stats.TotalSent)
	assert.Equal(t, 3, stats.TotalOpened)
	assert.Equal(t, 2, stats.UniqueOpened)
	assert.Equal(t, 66.67, stats.OpenRate)
}

func TestOpenRate(t *testing.T) {
	tests := []struct {
		unique, sent int
		want         float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 10, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{5, 5, 100},
		{1, 8, 12.5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.unique, tt.sent), func(t *testing.T) {
			assert.Equal(t, tt.want, openRate(tt.unique, tt.sent))
		})
	}
}

func TestReportOpenCountFollowsDedup(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "msg-1")

	firstAt := env.clock.Now()
	env.openFrom(t, "msg-1", "203.0.113.1")
	env.clock.Advance(10 * time.Minute)
	env.openFrom(t, "msg-1", "203.0.113.1")
	env.clock.Advance(10 * time.Minute)
	lastAt := env.clock.Now()
	env.openFrom(t, "msg-1", "203.0.113.2")

	report := env.store.Report()
	require.Len(t, report.Messages, 1)
	msg := report.Messages[0]
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, 2, msg.OpenCount)
	require.NotNil(t, msg.FirstOpenedAt)
	require.NotNil(t, msg.LastOpenedAt)
	assert.False(t, msg.LastOpenedAt.Before(*msg.FirstOpenedAt))
	assert.Equal(t, firstAt, *msg.FirstOpenedAt)
	assert.Equal(t, lastAt, *msg.LastOpenedAt)
}

func TestReportUnopenedMessage(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "msg-1")

	report := env.store.Report()
	require.Len(t, report.Messages, 1)
	assert.Zero(t, report.Messages[0].OpenCount)
	assert.Nil(t, report.Messages[0].FirstOpenedAt)
	assert.Nil(t, report.Messages[0].LastOpenedAt)
	assert.Empty(t, report.RecentOpens)
	assert.Equal(t, env.clock.Now(), report.GeneratedAt)
}

func TestReportExcludesUnknownIDsFromMessages(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "msg-1")
	env.openFrom(t, "ghost", "203.0.113.1")

	report := env.store.Report()
	require.Len(t, report.Messages, 1)
	assert.Equal(t, "msg-1", report.Messages[0].ID)
	assert.Zero(t, report.Messages[0].OpenCount)
	require.Len(t, report.RecentOpens, 1)
	assert.Equal(t, "ghost", report.RecentOpens[0].TrackingID)
	assert.Equal(t, 1, report.Summary.TotalOpened)
}

func TestReportRecentOpensMostRecentFirst(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "msg-1")

	for i := 0; i < 15; i++ {
		env.openFrom(t, "msg-1", fmt.Sprintf("203.0.113.%d", i))
		env.clock.Advance(time.Minute)
	}

	report := env.store.Report()
	require.Len(t, report.RecentOpens, defaultRecentLimit)
	assert.Equal(t, "203.0.113.14", report.RecentOpens[0].IPAddress)
	assert.Equal(t, "203.0.113.5", report.RecentOpens[defaultRecentLimit-1].IPAddress)
	for i := 1; i < len(report.RecentOpens); i++ {
		assert.False(t, report.RecentOpens[i].ObservedAt.After(report.RecentOpens[i-1].ObservedAt))
	}
}

func TestReportRecentLimitOption(t *testing.T) {
	env := newTestEnv(t)
	env.store.recentLimit = 2
	env.send(t, "msg-1")
	env.openFrom(t, "msg-1", "203.0.113.1")
	env.openFrom(t, "msg-1", "203.0.113.2")
	env.openFrom(t, "msg-1", "203.0.113.3")

	report := env.store.Report()
	require.Len(t, report.RecentOpens, 2)
	// same timestamp: latest insert first
	assert.Equal(t, "203.0.113.3", report.RecentOpens[0].IPAddress)
	assert.Equal(t, "203.0.113.2", report.RecentOpens[1].IPAddress)
}

func TestMessagesNewestSentFirst(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "old")
	env.clock.Advance(time.Hour)
	env.send(t, "new")
	env.openFrom(t, "old", "203.0.113.1")

	report := env.store.Report()
	require.Len(t, report.Messages, 2)
	assert.Equal(t, "new", report.Messages[0].ID)
	assert.Equal(t, "old", report.Messages[1].ID)

	all := env.store.GetAllTracked()
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.False(t, all[0].Opened)
	assert.Equal(t, "old", all[1].ID)
	assert.True(t, all[1].Opened)
	assert.Equal(t, 1, all[1].OpenCount)
	require.NotNil(t, all[1].LastOpenedAt)
}
