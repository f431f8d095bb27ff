package hallucination

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity is 1 - editDistance/maxLen over lowercased names, in [0,1].
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// closestKnown returns the known name most similar to name.
func closestKnown(name string, known []string) (string, float64) {
	var best string
	var bestSim float64
	for _, k := range known {
		if s := Similarity(name, k); s > bestSim {
			best, bestSim = k, s
		}
	}
	return best, bestSim
}
