package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidClock = errors.New("invalid logical clock")

// Ordering is the causal relation of one clock to another.
type Ordering int

const (
	OrderingEqual Ordering = iota
	OrderingBefore
	OrderingAfter
	OrderingConcurrent
	// OrderingInvalid is reported when either clock failed to parse.
	OrderingInvalid
)

func (o Ordering) String() string {
	switch o {
	case OrderingEqual:
		return "equal"
	case OrderingBefore:
		return "before"
	case OrderingAfter:
		return "after"
	case OrderingConcurrent:
		return "concurrent"
	default:
		return "invalid"
	}
}

// VectorClock maps a device id to that device's monotonically increasing
// counter. The zero value is an empty, valid clock.
type VectorClock struct {
	counters map[string]int64
	invalid  bool
}

func NewVectorClock(counters map[string]int64) VectorClock {
	c := VectorClock{counters: make(map[string]int64, len(counters))}
	for device, n := range counters {
		c.counters[device] = n
	}
	return c
}

// ParseVectorClock decodes the serialized form sent by terminals. An empty
// string is the empty clock. On malformed input the returned clock is
// invalid: it neither dominates nor is dominated by anything.
func ParseVectorClock(raw string) (VectorClock, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return VectorClock{}, nil
	}

	var counters map[string]int64
	if err := json.Unmarshal([]byte(raw), &counters); err != nil {
		return VectorClock{invalid: true}, fmt.Errorf("%w: %v", ErrInvalidClock, err)
	}
	for device, n := range counters {
		if n < 0 {
			return VectorClock{invalid: true}, fmt.Errorf("%w: negative counter for %q", ErrInvalidClock, device)
		}
	}
	return NewVectorClock(counters), nil
}

func (c VectorClock) Valid() bool {
	return !c.invalid
}

// Get returns the counter for device, 0 when absent.
func (c VectorClock) Get(device string) int64 {
	return c.counters[device]
}

func (c VectorClock) Len() int {
	return len(c.counters)
}

// Compare reports how c relates to other. Devices missing from either side
// count as zero.
func (c VectorClock) Compare(other VectorClock) Ordering {
	if c.invalid || other.invalid {
		return OrderingInvalid
	}

	var ahead, behind bool
	for device, n := range c.counters {
		switch m := other.counters[device]; {
		case n > m:
			ahead = true
		case n < m:
			behind = true
		}
	}
	for device, m := range other.counters {
		if _, ok := c.counters[device]; !ok && m > 0 {
			behind = true
		}
	}

	switch {
	case ahead && behind:
		return OrderingConcurrent
	case ahead:
		return OrderingAfter
	case behind:
		return OrderingBefore
	default:
		return OrderingEqual
	}
}

// Dominates reports whether local is causally newer than server: never
// behind on any device and strictly ahead on at least one. Concurrent and
// unparseable pairs do not dominate, so the server copy wins.
func Dominates(local, server VectorClock) bool {
	return local.Compare(server) == OrderingAfter
}

// Merge returns the element-wise maximum of both clocks. Merging with an
// invalid clock yields the valid side.
func (c VectorClock) Merge(other VectorClock) VectorClock {
	switch {
	case c.invalid && other.invalid:
		return VectorClock{}
	case c.invalid:
		return other.clone()
	case other.invalid:
		return c.clone()
	}

	merged := c.clone()
	for device, m := range other.counters {
		if m > merged.counters[device] {
			merged.counters[device] = m
		}
	}
	return merged
}

// Tick returns a copy of c with device's counter incremented.
func (c VectorClock) Tick(device string) VectorClock {
	next := c.clone()
	next.invalid = false
	next.counters[device]++
	return next
}

func (c VectorClock) clone() VectorClock {
	return NewVectorClock(c.counters)
}

// String renders the clock in its wire form; keys are sorted.
func (c VectorClock) String() string {
	b, err := c.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (c VectorClock) MarshalJSON() ([]byte, error) {
	if len(c.counters) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(c.counters)
}

func (c *VectorClock) UnmarshalJSON(data []byte) error {
	parsed, err := ParseVectorClock(string(data))
	*c = parsed
	return err
}
