package eligibility

import "strings"

// Filter decides by category name whether an object may be processed at all.
// A non-empty whitelist wins outright and the exclude list is ignored.
type Filter struct {
	whitelist map[string]struct{}
	exclude   map[string]struct{}
}

func New(whitelist, exclude []string) Filter {
	return Filter{
		whitelist: toSet(whitelist),
		exclude:   toSet(exclude),
	}
}

func (f Filter) IsEligible(category string) bool {
	key := strings.ToLower(strings.TrimSpace(category))
	if len(f.whitelist) > 0 {
		_, ok := f.whitelist[key]
		return ok
	}
	_, excluded := f.exclude[key]
	return !excluded
}

// WhitelistMode reports whether the exclude list is currently ignored.
func (f Filter) WhitelistMode() bool { return len(f.whitelist) > 0 }

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		out[n] = struct{}{}
	}
	return out
}
