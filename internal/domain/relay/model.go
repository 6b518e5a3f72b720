// Package relay holds the relay's domain model: persistent identity, backend
// assigned configuration, the status snapshot read back from the backend and
// the pairing lifecycle states.
package relay

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// State is the pairing lifecycle state of the relay.
type State int

const (
	StateInitializing State = iota
	StateUnpaired
	StatePairingInProgress
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateUnpaired:
		return "UNPAIRED"
	case StatePairingInProgress:
		return "PAIRING_IN_PROGRESS"
	case StatePaired:
		return "PAIRED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON views.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Identity is the durable identity of the relay.
//
// RelayID is issued by the backend on the first pairing-code request and is kept
// across resets. PairingCode is present only while the relay is unpaired.
type Identity struct {
	RelayID      string `json:"relay_id,omitempty"`
	PairingCode  string `json:"pairing_code,omitempty"`
	RTSPOverride string `json:"rtsp_override,omitempty"`
	CoopID       string `json:"coop_id,omitempty"`
}

// IntervalUnset is the sentinel interval used when the backend declares none.
const IntervalUnset = "-"

// Config is the backend-assigned capture configuration.
// It is an immutable value; pollers replace it as a whole.
type Config struct {
	Interval string `json:"interval"`
	RTSPURL  string `json:"rtsp_url,omitempty"`
}

// DefaultConfig is the configuration in effect before the first successful poll.
func DefaultConfig() Config {
	return Config{Interval: IntervalUnset}
}

// Status is a read-only snapshot of the relay as the backend sees it.
type Status struct {
	LastSeenAt     string `json:"last_seen_at,omitempty"`
	PairedAt       string `json:"paired_at,omitempty"`
	LatestSnapshot string `json:"latest_snapshot,omitempty"`
	RTSPURL        string `json:"rtsp_url,omitempty"`

	// Unavailable is set when the last status read failed; the other fields are then empty.
	Unavailable bool      `json:"unavailable,omitempty"`
	FetchedAt   time.Time `json:"fetched_at,omitzero"`
}

var (
	intervalRe    = regexp.MustCompile(`^(\d+)([smh])$`)
	pairingCodeRe = regexp.MustCompile(`^\d{8}$`)
)

// ValidPairingCode reports whether s has the shape the backend issues: eight digits.
func ValidPairingCode(s string) bool { return pairingCodeRe.MatchString(s) }

// ParseInterval converts an encoded interval ("30s", "5m", "1h") into a duration.
// Strings not matching ^\d+[smh]$ yield 0.
func ParseInterval(s string) time.Duration {
	m := intervalRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	}

	// Refuse values that would overflow time.Duration.
	if n > int64((1<<63-1)/unit) {
		return 0
	}
	return time.Duration(n) * unit
}

// EffectiveRTSPURL returns the override when set, otherwise the backend URL.
func EffectiveRTSPURL(override string, cfg Config) string {
	if override != "" {
		return override
	}
	return cfg.RTSPURL
}

// FormatCountdown renders seconds as MM:SS; non-positive values render as 00:00.
func FormatCountdown(totalSeconds int) string {
	if totalSeconds <= 0 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}
