package schedule

import (
	"fmt"
	"strings"
)

type Precedence string

const (
	HolidayFirst  Precedence = "holiday_first"
	OverrideFirst Precedence = "override_first"
)

type OverlapPolicy string

const (
	OverlapLatest OverlapPolicy = "latest"
	OverlapSkip   OverlapPolicy = "skip"
)

// Policy holds the configurable tie-breaks of the resolver.
type Policy struct {
	Precedence Precedence
	OnOverlap  OverlapPolicy
}

func DefaultPolicy() Policy {
	return Policy{Precedence: HolidayFirst, OnOverlap: OverlapLatest}
}

// ParsePolicy accepts the config strings; empty values take the defaults.
func ParsePolicy(precedence, onOverlap string) (Policy, error) {
	p := DefaultPolicy()
	switch v := Precedence(strings.ToLower(strings.TrimSpace(precedence))); v {
	case "":
	case HolidayFirst, OverrideFirst:
		p.Precedence = v
	default:
		return p, fmt.Errorf("schedule.precedence: unknown value %q", precedence)
	}
	switch v := OverlapPolicy(strings.ToLower(strings.TrimSpace(onOverlap))); v {
	case "":
	case OverlapLatest, OverlapSkip:
		p.OnOverlap = v
	default:
		return p, fmt.Errorf("schedule.on_period_overlap: unknown value %q", onOverlap)
	}
	return p, nil
}
