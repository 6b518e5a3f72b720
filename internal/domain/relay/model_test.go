package relay

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1s", time.Second},
		{"45s", 45 * time.Second},
		{"5m", 5 * time.Minute},
		{"10m", 10 * time.Minute},
		{"15m", 15 * time.Minute},
		{"30m", 30 * time.Minute},
		{"2h", 2 * time.Hour},
		{"0m", 0},
		{"-", 0},
		{"", 0},
		{"5", 0},
		{"m", 0},
		{"5d", 0},
		{"5 m", 0},
		{" 5m", 0},
		{"5M", 0},
		{"-5m", 0},
		{"1.5h", 0},
		{"99999999999999999999h", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseInterval(tt.in))
		})
	}
}

func TestParseIntervalMilliseconds(t *testing.T) {
	factor := map[string]int64{"s": 1000, "m": 60000, "h": 3600000}
	for _, v := range []int64{1, 7, 60, 1440} {
		for unit, ms := range factor {
			got := ParseInterval(strconv.FormatInt(v, 10) + unit)
			assert.Equal(t, v*ms, got.Milliseconds(), "%d%s", v, unit)
		}
	}
}

func TestEffectiveRTSPURL(t *testing.T) {
	cfg := Config{Interval: "5m", RTSPURL: "rtsp://backend/stream"}

	assert.Equal(t, "rtsp://local/override", EffectiveRTSPURL("rtsp://local/override", cfg))
	assert.Equal(t, "rtsp://backend/stream", EffectiveRTSPURL("", cfg))
	assert.Empty(t, EffectiveRTSPURL("", DefaultConfig()))
}

func TestFormatCountdown(t *testing.T) {
	assert.Equal(t, "00:00", FormatCountdown(0))
	assert.Equal(t, "00:00", FormatCountdown(-3))
	assert.Equal(t, "00:59", FormatCountdown(59))
	assert.Equal(t, "05:00", FormatCountdown(300))
	assert.Equal(t, "61:01", FormatCountdown(3661))
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		State State `json:"state"`
	}{StatePairingInProgress})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"PAIRING_IN_PROGRESS"}`, string(b))
}

func TestValidPairingCode(t *testing.T) {
	assert.True(t, ValidPairingCode("00012345"))
	assert.False(t, ValidPairingCode("1234567"))
	assert.False(t, ValidPairingCode("123456789"))
	assert.False(t, ValidPairingCode("1234abcd"))
	assert.False(t, ValidPairingCode(""))
}
