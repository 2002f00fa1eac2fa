package delegation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidKindFilter = errors.New("invalid kind filter")

// KindFilter restricts a delegation to a set of event kinds. The zero
// value behaves like AllKinds.
type KindFilter struct {
	some  bool
	kinds []uint32
}

// AllKinds returns a filter that places no kind restriction.
func AllKinds() *KindFilter {
	return &KindFilter{}
}

// SomeKinds returns a filter restricted to the given kinds. An empty
// list is a valid but unsatisfiable filter.
func SomeKinds(kinds ...uint32) *KindFilter {
	f := &KindFilter{some: true}
	for _, k := range kinds {
		f.Add(k)
	}
	return f
}

// Restricted reports whether the filter constrains kinds at all.
func (f *KindFilter) Restricted() bool {
	return f.some
}

func (f *KindFilter) Contains(kind uint32) bool {
	if !f.some {
		return true
	}
	for _, k := range f.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Add inserts a kind into a restricted filter. Unrestricted filters are
// left alone.
func (f *KindFilter) Add(kind uint32) {
	if !f.some || f.Contains(kind) {
		return
	}
	f.kinds = append(f.kinds, kind)
	sort.Slice(f.kinds, func(i, j int) bool { return f.kinds[i] < f.kinds[j] })
}

// String renders the filter as a conditions clause. Consecutive kinds
// collapse into ranges: "k=0-3,41-42". An unrestricted filter renders
// empty, and a restricted filter with no kinds renders as the
// always-false "k=0&k=1" so it never widens into "allow everything".
func (f *KindFilter) String() string {
	if !f.some {
		return ""
	}
	if len(f.kinds) == 0 {
		return "k=0&k=1"
	}
	var parts []string
	start, end := f.kinds[0], f.kinds[0]
	flush := func() {
		if start == end {
			parts = append(parts, strconv.FormatUint(uint64(start), 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, k := range f.kinds[1:] {
		if k == end+1 {
			end = k
			continue
		}
		flush()
		start, end = k, k
	}
	flush()
	return "k=" + strings.Join(parts, ",")
}

// ParseKindFilter parses the clause form produced by String. The empty
// string parses as the unrestricted filter.
func ParseKindFilter(s string) (*KindFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AllKinds(), nil
	}
	if s == "k=0&k=1" {
		return SomeKinds(), nil
	}
	rest, ok := strings.CutPrefix(s, "k=")
	if !ok {
		return nil, ErrInvalidKindFilter
	}
	f := &KindFilter{some: true}
	for _, member := range strings.Split(rest, ",") {
		lo, hi, found := strings.Cut(member, "-")
		start, err := strconv.ParseUint(lo, 10, 32)
		if err != nil {
			return nil, ErrInvalidKindFilter
		}
		end := start
		if found {
			end, err = strconv.ParseUint(hi, 10, 32)
			if err != nil || end < start {
				return nil, ErrInvalidKindFilter
			}
		}
		for k := start; k <= end; k++ {
			f.Add(uint32(k))
		}
	}
	return f, nil
}
