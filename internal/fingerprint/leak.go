package fingerprint

import (
	"sort"

	"github.com/corona10/goimagehash"
)

// DefaultThreshold is the maximum Hamming distance at which a candidate counts as a copy of a reference
const DefaultThreshold = 5

// References maps reference image filenames to their fingerprints
type References map[string]*goimagehash.ImageHash

// Names returns the reference filenames in lexicographic order
func (r References) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Match is the outcome of comparing a candidate fingerprint against the references
type Match struct {
	Matched   bool
	Reference string
	Distance  int
}

// CheckImageLeak reports whether any reference lies within threshold of candidate.
// When several do, the smallest distance wins and ties go to the lexicographically first name.
// References of a different hash kind are skipped.
func CheckImageLeak(candidate *goimagehash.ImageHash, refs References, threshold int) Match {
	if candidate == nil {
		return Match{}
	}

	var best Match
	for _, name := range refs.Names() {
		dist, err := Distance(candidate, refs[name])
		if err != nil || dist > threshold {
			continue
		}
		if !best.Matched || dist < best.Distance {
			best = Match{Matched: true, Reference: name, Distance: dist}
		}
	}
	return best
}
