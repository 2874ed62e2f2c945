package enrichment

import "math"

// Table is a 2x2 contingency table: rows are buckets, columns are
// (with variant, without variant).
type Table [2][2]int

// RowTotal returns the size of one bucket.
func (t Table) RowTotal(row int) int { return t[row][0] + t[row][1] }

// Degenerate reports whether either bucket is empty.
func (t Table) Degenerate() bool { return t.RowTotal(0) == 0 || t.RowTotal(1) == 0 }

// Swap exchanges the two buckets.
func (t Table) Swap() Table { return Table{t[1], t[0]} }

// relErr is the tolerance used when comparing hypergeometric probabilities
// against the observed one.
const relErr = 1 + 1e-7

// OddsRatio returns ad/bc. It is unknown when either bucket is empty or bc is
// zero.
func OddsRatio(t Table) (float64, bool) {
	if t.Degenerate() {
		return 0, false
	}
	bc := float64(t[0][1]) * float64(t[1][0])
	if bc == 0 {
		return 0, false
	}
	return float64(t[0][0]) * float64(t[1][1]) / bc, true
}

// FisherExact returns the two-sided Fisher exact p-value: the summed
// probability of every table with the same margins that is no more likely
// than the observed one. It is unknown when either bucket is empty.
func FisherExact(t Table) (float64, bool) {
	if t.Degenerate() {
		return 0, false
	}
	r1, r2 := t.RowTotal(0), t.RowTotal(1)
	c1 := t[0][0] + t[1][0]
	n := r1 + r2
	logDenom := logChoose(n, c1)
	prob := func(x int) float64 {
		return math.Exp(logChoose(r1, x) + logChoose(r2, c1-x) - logDenom)
	}
	observed := prob(t[0][0])
	var p float64
	for x := max(0, c1-r2); x <= min(r1, c1); x++ {
		if px := prob(x); px <= observed*relErr {
			p += px
		}
	}
	return min(p, 1), true
}

func logChoose(n, k int) float64 {
	return lgamma(n+1) - lgamma(k+1) - lgamma(n-k+1)
}

func lgamma(x int) float64 {
	v, _ := math.Lgamma(float64(x))
	return v
}
