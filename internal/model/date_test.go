package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-05")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 5}, d)

	_, err = ParseDate("05-03-2025")
	require.Error(t, err)
}

func TestDateOrdering(t *testing.T) {
	a := Date{Year: 2024, Month: time.December, Day: 31}
	b := Date{Year: 2025, Month: time.January, Day: 1}
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Before(a))

	assert.Equal(t, a, MinDate(a, b))
	assert.Equal(t, b, MaxDate(a, b))
}

func TestDateAddDaysNormalizes(t *testing.T) {
	d := Date{Year: 2024, Month: time.February, Day: 28}
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d.AddDays(1))
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 1}, d.AddDays(2))
	assert.Equal(t, Date{Year: 2024, Month: time.January, Day: 29}, d.AddDays(-30))
}

func TestDateDayWindow(t *testing.T) {
	d := Date{Year: 2025, Month: time.March, Day: 5}
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.Local), d.Start())
	assert.Equal(t, time.Date(2025, 3, 5, 23, 59, 59, 0, time.Local), d.End())
}

func TestDateJSONRoundTrip(t *testing.T) {
	d := Date{Year: 2025, Month: time.March, Day: 5}

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2025-03-05"`, string(raw))

	var back Date
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)
}
