package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a candle resolution.
type Timeframe time.Duration

const (
	TF15s Timeframe = Timeframe(15 * time.Second)
	TF30s Timeframe = Timeframe(30 * time.Second)
	TF1m  Timeframe = Timeframe(time.Minute)
	TF5m  Timeframe = Timeframe(5 * time.Minute)
	TF15m Timeframe = Timeframe(15 * time.Minute)
	TF30m Timeframe = Timeframe(30 * time.Minute)
	TF1h  Timeframe = Timeframe(time.Hour)
	TF4h  Timeframe = Timeframe(4 * time.Hour)
	TF12h Timeframe = Timeframe(12 * time.Hour)
	TF1d  Timeframe = Timeframe(24 * time.Hour)
)

// AllTimeframes lists the resolutions offered to consumers, finest first.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF15s, TF30s, TF1m, TF5m, TF15m, TF30m, TF1h, TF4h, TF12h, TF1d}
}

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf)
}

func (tf Timeframe) String() string {
	d := time.Duration(tf)
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return strconv.FormatInt(int64(d/(24*time.Hour)), 10) + "d"
	case d >= time.Hour && d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	case d >= time.Minute && d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	default:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
}

// ParseTimeframe accepts "15s", "5m", "4h", "1d" style names.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return Timeframe(time.Duration(n) * unit), nil
}

func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

func (tf *Timeframe) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}

// PeriodStart floors t to the timeframe boundary (epoch aligned, UTC).
func (tf Timeframe) PeriodStart(t time.Time) time.Time {
	d := int64(tf)
	ns := t.UnixNano()
	start := ns - ns%d
	if ns < 0 && ns%d != 0 {
		start -= d
	}
	return time.Unix(0, start).UTC()
}
