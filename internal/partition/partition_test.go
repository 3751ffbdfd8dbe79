package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := map[string]struct {
		period Period
		want   string
	}{
		"hour":  {period: Hour, want: "events_2024010215"},
		"day":   {period: Day, want: "events_20240102"},
		"month": {period: Month, want: "events_202401"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Resolver("events_", tc.period)(ts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolverConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2024, 1, 2, 1, 0, 0, 0, loc)

	got, err := Resolver("r", Day)(ts)
	require.NoError(t, err)
	assert.Equal(t, "r20240101", got)
}

func TestResolverOutOfRange(t *testing.T) {
	resolve := Resolver("r", Day)

	_, err := resolve(time.Time{})
	assert.ErrorIs(t, err, ErrTimeOutOfRange)

	_, err = resolve(time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC))
	assert.ErrorIs(t, err, ErrTimeOutOfRange)

	got, err := resolve(time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "r19700101", got)
}

func TestNext(t *testing.T) {
	ts := time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Next(ts, Hour))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Next(ts, Day))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Next(ts, Month))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Next(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), Month))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, Day, p)

	p, err = ParsePeriod(" Hour ")
	require.NoError(t, err)
	assert.Equal(t, Hour, p)

	_, err = ParsePeriod("week")
	assert.Error(t, err)
}
