package jitter

// Distance returns the signed distance from current to next of smallest
// magnitude, allowing for either number having wrapped past 65535.
// Positive means next is ahead of current.
func Distance(next, current uint16) int {
	n, c := int(next), int(current)
	distance := n - c

	for _, candidate := range [...]int{
		(n + seqRollover) - c,
		(n + seqRollover) - (c + seqRollover),
		n - (c + seqRollover),
	} {
		if abs(candidate) < abs(distance) {
			distance = candidate
		}
	}
	return distance
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
