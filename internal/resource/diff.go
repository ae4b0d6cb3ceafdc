package resource

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Change classifies the difference between recorded and declared args.
type Change int

const (
	NoChange Change = iota
	InPlace
	Replace
)

func (c Change) String() string {
	switch c {
	case NoChange:
		return "none"
	case InPlace:
		return "in-place"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

var argsCmp = []cmp.Option{cmpopts.EquateEmpty()}

// Compare decides how the declared args relate to what was recorded.
func Compare(prev, next Args) Change {
	if prev == nil || prev.Kind() != next.Kind() {
		return Replace
	}
	if cmp.Equal(prev, next, argsCmp...) {
		return NoChange
	}
	if next.RequiresReplace(prev) {
		return Replace
	}
	return InPlace
}

// Diff renders the changed attributes for logs and previews.
func Diff(prev, next Args) string {
	return cmp.Diff(prev, next, argsCmp...)
}
