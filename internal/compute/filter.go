package compute

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FilterAll is the selector string that disables window filtering.
const FilterAll = "all"

// ErrInvalidFilter is returned by ParseFilter for anything other than "all"
// or a positive integer number of seconds.
var ErrInvalidFilter = errors.New("filter must be \"all\" or a positive number of seconds")

// Filter selects the time window the dashboard aggregates over.
// The zero value means "all".
type Filter struct {
	Window time.Duration
}

// All reports whether f disables window filtering.
func (f Filter) All() bool { return f.Window <= 0 }

// String renders f in selector form: "all" or whole seconds.
func (f Filter) String() string {
	if f.All() {
		return FilterAll
	}
	return strconv.FormatInt(int64(f.Window/time.Second), 10)
}

// WindowFilter returns a filter over the last n seconds.
func WindowFilter(seconds int) Filter {
	return Filter{Window: time.Duration(seconds) * time.Second}
}

// ParseFilter parses a selector string.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, FilterAll) {
		return Filter{}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Filter{}, fmt.Errorf("%w: got %q", ErrInvalidFilter, s)
	}
	return WindowFilter(n), nil
}
