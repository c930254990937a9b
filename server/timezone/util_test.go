package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimezone(t *testing.T) {
	tests := []struct {
		name    string
		tz      string
		wantErr bool
	}{
		{"empty defaults to UTC", "", false},
		{"explicit UTC", "UTC", false},
		{"valid IANA zone", "Europe/Berlin", false},
		{"valid US zone", "America/New_York", false},
		{"invalid zone", "Mars/Olympus", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseTimezone(tt.tz)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, UTC, loc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, loc)
			}
		})
	}
}

func TestIsValidTimezone(t *testing.T) {
	assert.True(t, IsValidTimezone(""))
	assert.True(t, IsValidTimezone("UTC"))
	assert.True(t, IsValidTimezone("Asia/Tokyo"))
	assert.False(t, IsValidTimezone("Not/AZone"))
}

func TestStartOfDay(t *testing.T) {
	berlin := MustParseTimezone("Europe/Berlin")

	// 2026-03-15 01:30 UTC is 02:30 in Berlin (CET).
	instant := time.Date(2026, 3, 15, 1, 30, 0, 0, time.UTC)
	start := StartOfDay(instant, berlin)

	assert.Equal(t, 2026, start.Year())
	assert.Equal(t, time.March, start.Month())
	assert.Equal(t, 15, start.Day())
	assert.Equal(t, 0, start.Hour())
	assert.Equal(t, berlin, start.Location())
}

func TestSameDate(t *testing.T) {
	tokyo := MustParseTimezone("Asia/Tokyo")

	// 2026-01-01 20:00 UTC is already 2026-01-02 05:00 in Tokyo.
	a := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	b := time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC)

	assert.True(t, SameDate(a, b, tokyo))
	assert.False(t, SameDate(a, b, time.UTC))
}

func TestEndOfDay(t *testing.T) {
	end := EndOfDay(time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, 23, end.Hour())
	assert.Equal(t, 28, end.Day())
}
