package coverage

// Ratcliff–Obershelp sequence similarity over runes: the ratio is 2*M/T,
// where M is the total size of the matching blocks found by recursively
// taking the longest common substring, and T is the combined length of both
// inputs. This mirrors the classic gestalt pattern-matching ratio so that
// scores stay comparable across reimplementations; drifting to a different
// string metric would move results across the coverage threshold.

// ratio returns the similarity of a and b in [0,1]. Two empty strings are
// identical by definition.
func ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	matched := matchingRunes(ra, rb, 0, len(ra), 0, len(rb))
	return float64(2*matched) / float64(total)
}

// matchingRunes counts matched runes in a[alo:ahi] vs b[blo:bhi] by finding
// the longest matching block and recursing on the pieces to its left and
// right.
func matchingRunes(a, b []rune, alo, ahi, blo, bhi int) int {
	i, j, size := longestMatch(a, b, alo, ahi, blo, bhi)
	if size == 0 {
		return 0
	}
	return size +
		matchingRunes(a, b, alo, i, blo, j) +
		matchingRunes(a, b, i+size, ahi, j+size, bhi)
}

// longestMatch finds the longest block a[i:i+k] == b[j:j+k] within the given
// bounds. Among maximal blocks it returns the one starting earliest in a,
// and of those, earliest in b, so scoring is deterministic.
func longestMatch(a, b []rune, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	besti, bestj = alo, blo
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		next := make(map[int]int)
		for j := blo; j < bhi; j++ {
			if a[i] == b[j] {
				k := j2len[j-1] + 1
				next[j] = k
				if k > bestsize {
					besti, bestj, bestsize = i-k+1, j-k+1, k
				}
			}
		}
		j2len = next
	}
	return besti, bestj, bestsize
}
