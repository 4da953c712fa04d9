package scanner

import (
	"sort"
	"strings"

	"github.com/raaihank/dq-sentinel/internal/catalog"
)

// learningThreshold is the number of scans after which the observed
// detection frequency replaces the static impact as the boost.
const learningThreshold = 3

// PriorityScore ranks a rule by business impact, boosted by how often it
// has fired once enough scans have been observed.
func PriorityScore(r catalog.Rule) float64 {
	impact := float64(r.Criticality.Impact())
	boost := impact
	if r.Learned.ScanCount >= learningThreshold {
		boost = r.Learned.Frequency * 100
	}
	return boost * impact / 100
}

// Rank returns the rules ordered by descending priority, ties broken by id
// in natural order (DB#2 before DB#10).
// The input slice is not modified.
func Rank(rs []catalog.Rule) []catalog.Rule {
	out := make([]catalog.Rule, len(rs))
	copy(out, rs)
	scores := make(map[string]float64, len(out))
	for _, r := range out {
		scores[r.ID] = PriorityScore(r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scores[out[i].ID], scores[out[j].ID]
		if si != sj {
			return si > sj
		}
		return idLess(out[i].ID, out[j].ID)
	})
	return out
}

// idLess compares ids chunk by chunk, digit runs by numeric value.
func idLess(a, b string) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			si, sj := i, j
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			na, nb := strings.TrimLeft(a[si:i], "0"), strings.TrimLeft(b[sj:j], "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if a[i] != b[j] {
			return a[i] < b[j]
		}
		i++
		j++
	}
	if i == len(a) && j == len(b) {
		return a < b
	}
	return i == len(a)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
