// Package pagination parses skip/limit query parameters.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is used when the client omits limit.
	DefaultLimit = 20
	// DefaultMaxLimit caps limit.
	DefaultMaxLimit = 100
	// MaxSkip bounds offsets so listing cost stays predictable.
	MaxSkip = 10_000
)

// ErrInvalidParams wraps malformed skip or limit values.
var ErrInvalidParams = errors.New("pagination: invalid parameters")

// Offset is a validated skip/limit window.
type Offset struct {
	Skip  int
	Limit int
}

// Bounds configures Parse.
type Bounds struct {
	DefaultLimit int
	MaxLimit     int
}

func (b Bounds) normalised() Bounds {
	if b.DefaultLimit <= 0 {
		b.DefaultLimit = DefaultLimit
	}
	if b.MaxLimit <= 0 {
		b.MaxLimit = DefaultMaxLimit
	}
	if b.DefaultLimit > b.MaxLimit {
		b.DefaultLimit = b.MaxLimit
	}
	return b
}

// Parse reads skip and limit from values. Missing values take defaults,
// limit above the maximum is clamped, negative or non-numeric values fail.
func Parse(values url.Values, bounds Bounds) (Offset, error) {
	bounds = bounds.normalised()
	out := Offset{Limit: bounds.DefaultLimit}

	if raw := strings.TrimSpace(values.Get("skip")); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 || skip > MaxSkip {
			return Offset{}, fmt.Errorf("%w: skip must be an integer between 0 and %d", ErrInvalidParams, MaxSkip)
		}
		out.Skip = skip
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return Offset{}, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidParams)
		}
		out.Limit = min(limit, bounds.MaxLimit)
	}
	return out, nil
}

// Clamp applies bounds to an Offset built outside Parse.
func Clamp(o Offset, bounds Bounds) Offset {
	bounds = bounds.normalised()
	if o.Skip < 0 {
		o.Skip = 0
	}
	if o.Skip > MaxSkip {
		o.Skip = MaxSkip
	}
	if o.Limit <= 0 {
		o.Limit = bounds.DefaultLimit
	}
	o.Limit = min(o.Limit, bounds.MaxLimit)
	return o
}
