package game

import (
	"strconv"
	"strings"
)

// Pattern is a payline: the row index read on each reel
type Pattern []int

// Patterns enumerates up to k distinct paylines for the given geometry.
//
// Order: middle, top, bottom, remaining rows top-down, V, inverted V,
// the two zig-zags, both diagonals, then for every ordered pair of rows
// (nearest pairs first) a U shape, an alternating line and a step.
// A 5x3 grid yields 25 distinct lines, a 3x3 grid 17.
func Patterns(reels, rows, k int) []Pattern {
	if reels < 1 || rows < 1 || k < 1 {
		return nil
	}

	last := rows - 1
	mid := rows / 2
	line := func(f func(reel int) int) Pattern {
		p := make(Pattern, reels)
		for i := range p {
			p[i] = clampRow(f(i), last)
		}
		return p
	}
	flat := func(row int) Pattern {
		return line(func(int) int { return row })
	}
	// depth into the grid, deepest at the centre reel
	vDepth := func(i int) int {
		d := i
		if reels-1-i < d {
			d = reels - 1 - i
		}
		return d
	}

	candidates := []Pattern{flat(mid), flat(0), flat(last)}
	for r := 0; r < rows; r++ {
		candidates = append(candidates, flat(r))
	}
	candidates = append(candidates,
		line(func(i int) int { return vDepth(i) }),
		line(func(i int) int { return last - vDepth(i) }),
		line(func(i int) int { return i % 2 }),
		line(func(i int) int { return last - i%2 }),
		line(func(i int) int { return diagonal(i, reels, last) }),
		line(func(i int) int { return last - diagonal(i, reels, last) }),
	)
	for _, pr := range rowPairs(rows) {
		a, b := pr[0], pr[1]
		candidates = append(candidates,
			// a on the outer reels, b between them
			line(func(i int) int {
				if i == 0 || i == reels-1 {
					return a
				}
				return b
			}),
			line(func(i int) int {
				if i%2 == 0 {
					return a
				}
				return b
			}),
			line(func(i int) int {
				if i < reels/2 {
					return a
				}
				return b
			}),
		)
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]Pattern, 0, k)
	for _, p := range candidates {
		key := p.key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
		if len(out) == k {
			break
		}
	}
	return out
}

// rowPairs lists ordered pairs of distinct rows by distance, then by row
func rowPairs(rows int) [][2]int {
	var pairs [][2]int
	for d := 1; d < rows; d++ {
		for a := 0; a+d < rows; a++ {
			pairs = append(pairs, [2]int{a, a + d}, [2]int{a + d, a})
		}
	}
	return pairs
}

func diagonal(i, reels, last int) int {
	if reels == 1 {
		return 0
	}
	return i * last / (reels - 1)
}

func clampRow(r, last int) int {
	if r < 0 {
		return 0
	}
	if r > last {
		return last
	}
	return r
}

func (p Pattern) key() string {
	parts := make([]string, len(p))
	for i, r := range p {
		parts[i] = strconv.Itoa(r)
	}
	return strings.Join(parts, ",")
}
