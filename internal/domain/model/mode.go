package model

import "fmt"

// DataMode selects where the ingestion feed comes from.
type DataMode int

const (
	LiveMode DataMode = iota
	TestMode
)

func (m DataMode) String() string {
	switch m {
	case LiveMode:
		return "live"
	case TestMode:
		return "test"
	default:
		return "unknown"
	}
}

func ParseDataMode(s string) (DataMode, error) {
	switch s {
	case "live", "":
		return LiveMode, nil
	case "test":
		return TestMode, nil
	default:
		return 0, fmt.Errorf("unknown data mode %q", s)
	}
}
