package diff

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultMaxStringLength bounds the rendered old/new summaries of a
// difference. Collections past the limit are truncated with an
// ellipsis; added/removed lists stay complete.
const DefaultMaxStringLength = 40

// Difference records one changed attribute between two snapshots.
type Difference struct {
	Attribute   string
	DisplayName string
	Context     string

	OldValue string
	NewValue string

	// Multi-valued changes also carry the exact values that came and
	// went.
	AddedValues   []string
	RemovedValues []string
}

// Multi reports whether the difference tracked value lists.
func (d *Difference) Multi() bool {
	return len(d.AddedValues) > 0 || len(d.RemovedValues) > 0
}

// DiffOptions tune Diff and DiffMaps.
type DiffOptions struct {
	// MaxStringLength bounds rendered summaries; zero means the
	// default.
	MaxStringLength int
	// CaseInsensitive re-checks removed values ignoring case before
	// reporting them.
	CaseInsensitive bool
	// Exclusions are attribute names DiffMaps skips.
	Exclusions []string
	// MaxDiffs stops DiffMaps after this many differences; zero means
	// unbounded.
	MaxDiffs int
}

func (o DiffOptions) maxLen() int {
	if o.MaxStringLength > 0 {
		return o.MaxStringLength
	}
	return DefaultMaxStringLength
}

// Diff compares one attribute's old and new values, nil when they are
// equal. A value appearing or disappearing entirely is reported with
// only the side that exists.
func Diff(attribute string, oldValue, newValue any, opts DiffOptions) *Difference {
	oldList, oldIsList := asValueList(oldValue)
	newList, newIsList := asValueList(newValue)

	switch {
	case isMissing(oldValue) && isMissing(newValue):
		return nil
	case isMissing(oldValue):
		d := &Difference{Attribute: attribute, NewValue: stringify(newValue, opts.maxLen())}
		if newIsList {
			d.AddedValues = append([]string(nil), newList...)
		}
		return d
	case isMissing(newValue):
		d := &Difference{Attribute: attribute, OldValue: stringify(oldValue, opts.maxLen())}
		if oldIsList {
			d.RemovedValues = append([]string(nil), oldList...)
		}
		return d
	}

	if oldIsList || newIsList {
		// One side being scalar coerces to a single-element list so
		// the change is reported as membership churn.
		if !oldIsList {
			oldList = []string{stringifyScalar(oldValue)}
		}
		if !newIsList {
			newList = []string{stringifyScalar(newValue)}
		}
		return diffCollections(attribute, oldList, newList, opts)
	}

	oldStr := stringifyScalar(oldValue)
	newStr := stringifyScalar(newValue)
	if oldStr == newStr {
		return nil
	}
	return &Difference{
		Attribute: attribute,
		OldValue:  truncate(oldStr, opts.maxLen()),
		NewValue:  truncate(newStr, opts.maxLen()),
	}
}

func diffCollections(attribute string, oldList, newList []string, opts DiffOptions) *Difference {
	removed := subtract(oldList, newList, opts.CaseInsensitive)
	added := subtract(newList, oldList, false)
	if len(removed) == 0 && len(added) == 0 {
		return nil
	}
	return &Difference{
		Attribute:     attribute,
		OldValue:      stringifyList(oldList, opts.maxLen()),
		NewValue:      stringifyList(newList, opts.maxLen()),
		AddedValues:   added,
		RemovedValues: removed,
	}
}

// subtract returns the elements of a absent from b. With fold set, an
// element only counts as removed when no case variant survives.
func subtract(a, b []string, fold bool) []string {
	var out []string
	for _, v := range a {
		present := false
		for _, w := range b {
			if v == w || (fold && strings.EqualFold(v, w)) {
				present = true
				break
			}
		}
		if !present {
			out = append(out, v)
		}
	}
	return out
}

// DiffMaps compares two attribute maps. Keys of the old map are
// checked first, then keys only the new map has. A new-side nil is
// treated as missing rather than a value.
func DiffMaps(oldMap, newMap map[string]any, opts DiffOptions) []Difference {
	var out []Difference
	done := func() bool { return opts.MaxDiffs > 0 && len(out) >= opts.MaxDiffs }

	for _, k := range sortedKeys(oldMap) {
		if excluded(k, opts.Exclusions) {
			continue
		}
		if d := Diff(k, oldMap[k], mapValue(newMap, k), opts); d != nil {
			out = append(out, *d)
			if done() {
				return out
			}
		}
	}
	for _, k := range sortedKeys(newMap) {
		if excluded(k, opts.Exclusions) {
			continue
		}
		if _, seen := oldMap[k]; seen {
			continue
		}
		if newMap[k] == nil {
			continue
		}
		if d := Diff(k, nil, newMap[k], opts); d != nil {
			out = append(out, *d)
			if done() {
				return out
			}
		}
	}
	return out
}

func mapValue(m map[string]any, k string) any {
	if m == nil {
		return nil
	}
	return m[k]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func excluded(key string, exclusions []string) bool {
	for _, e := range exclusions {
		if e == key {
			return true
		}
	}
	return false
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// asValueList flattens collection values to strings; the second
// return says whether v was a collection at all.
func asValueList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, stringifyScalar(e))
		}
		return out, true
	default:
		return nil, false
	}
}

func stringifyScalar(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// stringify renders a value for difference summaries, truncating at
// maxLen.
func stringify(v any, maxLen int) string {
	if list, ok := asValueList(v); ok {
		return stringifyList(list, maxLen)
	}
	return truncate(stringifyScalar(v), maxLen)
}

// stringifyList renders "[a, b, ...]", dropping whole elements once
// the rendered length passes maxLen.
func stringifyList(list []string, maxLen int) string {
	var b strings.Builder
	b.WriteString("[")
	for i, v := range list {
		if i > 0 {
			b.WriteString(", ")
		}
		if b.Len()+len(v) > maxLen {
			b.WriteString("...")
			break
		}
		b.WriteString(v)
	}
	b.WriteString("]")
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
