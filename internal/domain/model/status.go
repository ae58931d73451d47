package model

import (
	"fmt"
	"time"
)

type StatusKind int

const (
	StatusBootstrapping StatusKind = iota
	StatusLive
	StatusDegraded
)

func (s StatusKind) String() string {
	switch s {
	case StatusBootstrapping:
		return "bootstrapping"
	case StatusLive:
		return "live"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

func (s StatusKind) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StatusKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bootstrapping":
		*s = StatusBootstrapping
	case "live":
		*s = StatusLive
	case "degraded":
		*s = StatusDegraded
	default:
		return fmt.Errorf("%w: status %q", ErrMalformedMessage, b)
	}
	return nil
}

// SymbolStatus is the per-symbol health exposed to consumers.
type SymbolStatus struct {
	Symbol        string     `json:"symbol"`
	Book          StatusKind `json:"book"`
	Reason        string     `json:"reason,omitempty"`
	Since         time.Time  `json:"since"`
	BaselineStale bool       `json:"baseline_stale"`
	Gaps          int64      `json:"gaps"`
	Resyncs       int64      `json:"resyncs"`
}

func (s SymbolStatus) Degraded() bool {
	return s.Book == StatusDegraded
}
