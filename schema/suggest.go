package schema

// Suggest returns the candidate closest to input within edit distance 2, or
// "" when nothing is close enough. Ties go to the earlier candidate.
func Suggest(input string, candidates []string) string {
	best := ""
	bestDist := 3
	for _, c := range candidates {
		if d := editDistance(input, c); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

// editDistance computes Levenshtein distance with a two-row table.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
