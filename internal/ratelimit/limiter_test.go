package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/geosurvey/internal/domain"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestLimiter_CapThenWindowExpiry(t *testing.T) {
	l := New(Config{Cap: 3, Window: 24 * time.Hour, MinInterval: 10 * time.Second})

	results := []bool{
		l.TryAdmit(domain.SourceLocation, t0),
		l.TryAdmit(domain.SourceLocation, t0.Add(15*time.Second)),
		l.TryAdmit(domain.SourceLocation, t0.Add(30*time.Second)),
		l.TryAdmit(domain.SourceLocation, t0.Add(45*time.Second)),
	}
	assert.Equal(t, []bool{true, true, true, false}, results)
	assert.Equal(t, 3, l.Count(t0.Add(time.Minute)))

	assert.True(t, l.TryAdmit(domain.SourceLocation, t0.Add(24*time.Hour)))
	assert.Equal(t, 3, l.Count(t0.Add(24*time.Hour)))
}

func TestLimiter_MinIntervalIsPerSource(t *testing.T) {
	l := New(Config{Cap: 10, MinInterval: 30 * time.Minute})

	require.True(t, l.TryAdmit(domain.SourceAudio, t0))
	assert.False(t, l.TryAdmit(domain.SourceAudio, t0.Add(10*time.Minute)))
	assert.True(t, l.TryAdmit(domain.SourceConversation, t0.Add(10*time.Minute)))
	assert.True(t, l.TryAdmit(domain.SourceAudio, t0.Add(30*time.Minute)))
}

func TestLimiter_CapIsSharedAcrossSources(t *testing.T) {
	l := New(Config{Cap: 2, MinInterval: time.Hour})
	assert.True(t, l.TryAdmit(domain.SourceLocation, t0))
	assert.True(t, l.TryAdmit(domain.SourceAudio, t0))
	assert.False(t, l.TryAdmit(domain.SourceConversation, t0))
}

func TestLimiter_RejectionDoesNotConsumeSlot(t *testing.T) {
	l := New(Config{Cap: 3, MinInterval: time.Hour})
	require.True(t, l.TryAdmit(domain.SourceAudio, t0))
	for i := 0; i < 5; i++ {
		assert.False(t, l.TryAdmit(domain.SourceAudio, t0.Add(time.Minute)))
	}
	assert.Len(t, l.Records(), 1)
}

func TestLimiter_ConcurrentCallersNeverExceedCap(t *testing.T) {
	l := New(Config{Cap: 3, MinInterval: 0})
	var admitted atomic.Int32
	var wg sync.WaitGroup
	sources := []domain.TriggerSource{domain.SourceLocation, domain.SourceAudio, domain.SourceConversation}
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.TryAdmit(sources[i%len(sources)], t0) {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(3), admitted.Load())
}

func TestLimiter_Defaults(t *testing.T) {
	cfg := New(Config{}).Config()
	assert.Equal(t, DefaultCap, cfg.Cap)
	assert.Equal(t, DefaultWindow, cfg.Window)
	assert.Equal(t, time.Duration(0), cfg.MinInterval)
}

func TestDailyCounter_ResetsAtMidnight(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	c := NewDailyCounter(3, loc)
	evening := time.Date(2026, 5, 4, 22, 0, 0, 0, loc)

	for i := 0; i < 3; i++ {
		require.True(t, c.TryIncrement(evening.Add(time.Duration(i)*time.Minute)))
	}
	assert.False(t, c.TryIncrement(evening.Add(time.Hour)))
	assert.Equal(t, 0, c.Remaining(evening.Add(time.Hour)))

	afterMidnight := time.Date(2026, 5, 5, 0, 0, 1, 0, loc)
	assert.Equal(t, 3, c.Remaining(afterMidnight))
	assert.True(t, c.TryIncrement(afterMidnight))
}

func TestLimiter_OutOfOrderAdmissionsExpireByTimestamp(t *testing.T) {
	l := New(Config{Cap: 2, MinInterval: 0})

	require.True(t, l.TryAdmit(domain.SourceAudio, t0.Add(1000*time.Second)))
	require.True(t, l.TryAdmit(domain.SourceLocation, t0))
	assert.Equal(t, t0, l.Records()[0].At, "records are kept oldest first")

	// only the audio record is still inside the window
	now := t0.Add(24*time.Hour + 500*time.Second)
	assert.Equal(t, 1, l.Count(now))
	assert.True(t, l.TryAdmit(domain.SourceConversation, now))
	assert.False(t, l.TryAdmit(domain.SourceLocation, now.Add(time.Second)))
}

func TestLimiter_MinIntervalAppliesToLateTimestamps(t *testing.T) {
	l := New(Config{Cap: 10, MinInterval: 30 * time.Minute})

	require.True(t, l.TryAdmit(domain.SourceAudio, t0.Add(time.Hour)))
	require.True(t, l.TryAdmit(domain.SourceAudio, t0))
	assert.False(t, l.TryAdmit(domain.SourceAudio, t0.Add(50*time.Minute)), "too close to the 1h record")
	assert.False(t, l.TryAdmit(domain.SourceAudio, t0.Add(10*time.Minute)), "too close to the 0h record")
	assert.True(t, l.TryAdmit(domain.SourceAudio, t0.Add(2*time.Hour)))
}

func TestDailyCounter_EarlierDayDoesNotRefill(t *testing.T) {
	c := NewDailyCounter(1, time.UTC)
	day2 := time.Date(2026, 5, 5, 10, 0, 0, 0, time.UTC)
	day1Late := time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC)

	assert.True(t, c.TryIncrement(day2))
	assert.False(t, c.TryIncrement(day1Late))
	assert.Equal(t, 0, c.Remaining(day1Late))
	assert.False(t, c.TryIncrement(day2.Add(time.Hour)))
	assert.Equal(t, 0, c.Remaining(day2.Add(time.Hour)))
}

func TestDailyCounter_RemainingDoesNotRoll(t *testing.T) {
	c := NewDailyCounter(2, time.UTC)
	require.True(t, c.TryIncrement(t0))
	tomorrow := t0.Add(24 * time.Hour)
	assert.Equal(t, 2, c.Remaining(tomorrow))
	assert.Equal(t, 1, c.Remaining(t0), "peeking at tomorrow leaves today's count")
	assert.True(t, c.TryIncrement(t0.Add(time.Minute)))
	assert.False(t, c.TryIncrement(t0.Add(2*time.Minute)))
}
