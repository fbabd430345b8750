package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	result := c.Now()
	after := time.Now()

	assert.False(t, result.Before(before), "RealClock.Now() should not be before the call")
	assert.False(t, result.After(after), "RealClock.Now() should not be after the call")
}

func TestRealClock_NowInLocation(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	c := RealClock{Location: seoul}

	assert.Equal(t, seoul, c.Now().Location())
}

func TestRealClock_NowUnixMilli(t *testing.T) {
	c := RealClock{}
	before := time.Now().UnixMilli()
	result := c.NowUnixMilli()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, result, before)
	assert.LessOrEqual(t, result, after)
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)
	c := NewMockClock(fixedTime)

	assert.Equal(t, fixedTime, c.Now())
	assert.Equal(t, fixedTime, c.Now())
	assert.Equal(t, fixedTime.UnixMilli(), c.NowUnixMilli())
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	initialTime := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(initialTime)

	got := c.Advance(90 * time.Minute)
	assert.Equal(t, time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC), got)
	assert.Equal(t, got, c.Now())

	c.Advance(-1 * time.Hour)
	assert.Equal(t, time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC), c.Now())

	newTime := time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC)
	c.Set(newTime)
	assert.Equal(t, newTime, c.Now())
}

func TestMockClock_ConcurrentAccess(t *testing.T) {
	c := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Minute)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC), c.Now())
}

func TestSameDay(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)

	tests := []struct {
		name string
		a, b time.Time
		want bool
	}{
		{
			name: "same instant",
			a:    time.Date(2024, 6, 15, 8, 0, 0, 0, seoul),
			b:    time.Date(2024, 6, 15, 8, 0, 0, 0, seoul),
			want: true,
		},
		{
			name: "just before and after midnight",
			a:    time.Date(2024, 6, 15, 23, 59, 0, 0, seoul),
			b:    time.Date(2024, 6, 16, 0, 1, 0, 0, seoul),
			want: false,
		},
		{
			name: "other location is converted to a's location",
			a:    time.Date(2024, 6, 16, 1, 0, 0, 0, seoul),
			b:    time.Date(2024, 6, 15, 17, 0, 0, 0, time.UTC),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameDay(tt.a, tt.b))
		})
	}
}

func TestLocalDate(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	got := LocalDate(time.Date(2024, 6, 15, 23, 59, 59, 5, seoul))

	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, seoul), got)
}
