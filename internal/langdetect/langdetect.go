// Package langdetect converts a per-language byte breakdown into primary and
// secondary language labels. Pure computation, no I/O.
package langdetect

import "sort"

// DefaultSecondaryRatio is the fraction of the primary's percentage a
// runner-up must reach to be reported as secondary.
const DefaultSecondaryRatio = 0.5

// Share is a language plus its percentage of total bytes.
type Share struct {
	Name    string
	Percent float64
}

// Result holds zero, one, or two detected languages.
type Result struct {
	Primary   *Share
	Secondary *Share
}

// Labels returns the detected language names, primary first.
func (r Result) Labels() []string {
	var out []string
	if r.Primary != nil {
		out = append(out, r.Primary.Name)
	}
	if r.Secondary != nil {
		out = append(out, r.Secondary.Name)
	}
	return out
}

// Detector computes language shares from byte counts.
type Detector struct {
	secondaryRatio float64
}

// New creates a Detector with the given secondary-qualification ratio; zero
// or negative means DefaultSecondaryRatio.
func New(secondaryRatio float64) *Detector {
	if secondaryRatio <= 0 {
		secondaryRatio = DefaultSecondaryRatio
	}
	return &Detector{secondaryRatio: secondaryRatio}
}

// Detect ranks languages by share of total bytes. The primary is the highest
// share; the runner-up is reported as secondary only when its percentage is
// at least secondaryRatio times the primary's (boundary inclusive). Ties
// break by lexicographic name order so results are deterministic regardless
// of map iteration.
func (d *Detector) Detect(byteCounts map[string]int64) Result {
	var total int64
	for _, n := range byteCounts {
		if n > 0 {
			total += n
		}
	}
	if total == 0 {
		return Result{}
	}

	shares := make([]Share, 0, len(byteCounts))
	for name, n := range byteCounts {
		if n <= 0 {
			continue
		}
		shares = append(shares, Share{
			Name:    name,
			Percent: float64(n) / float64(total) * 100,
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Percent != shares[j].Percent {
			return shares[i].Percent > shares[j].Percent
		}
		return shares[i].Name < shares[j].Name
	})

	res := Result{Primary: &shares[0]}
	if len(shares) > 1 && shares[1].Percent >= d.secondaryRatio*shares[0].Percent {
		res.Secondary = &shares[1]
	}
	return res
}
