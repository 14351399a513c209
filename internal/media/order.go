package media

import (
	"slices"
	"strings"
)

// Sort orders items for posting: natural filename order (page1, page2,
// page10), ties broken by arrival sequence. The input slice is not modified.
func Sort(items []Item) []Item {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b Item) int {
		if c := NaturalCompare(a.Name, b.Name); c != 0 {
			return c
		}
		return a.Seq - b.Seq
	})
	return out
}

// NaturalCompare compares strings treating digit runs as numbers.
// Letters compare case-insensitively; exact case is the last tie-breaker.
func NaturalCompare(a, b string) int {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	i, j := 0, 0
	for i < len(la) && j < len(lb) {
		ca, cb := la[i], lb[j]
		if isDigit(ca) && isDigit(cb) {
			si := i
			for i < len(la) && isDigit(la[i]) {
				i++
			}
			sj := j
			for j < len(lb) && isDigit(lb[j]) {
				j++
			}
			if c := compareDigits(la[si:i], lb[sj:j]); c != 0 {
				return c
			}
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(la)-i < len(lb)-j:
		return -1
	case len(la)-i > len(lb)-j:
		return 1
	}
	return strings.Compare(a, b)
}

// compareDigits compares two digit runs by value, then by length so that
// "01" sorts after "1".
func compareDigits(a, b string) int {
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		if len(ta) < len(tb) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(ta, tb); c != 0 {
		return c
	}
	return len(a) - len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
