package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration. path names the key in
// errors. Empty input is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Duration returns raw as a duration, or 0 when it is empty or invalid.
// Use it only on configs that already passed Validate; 0 lets each package
// pick its own default.
func Duration(raw string) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil {
		return 0
	}
	return d
}
