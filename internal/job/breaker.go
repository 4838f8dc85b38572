package job

// breaker counts consecutive listing-page failures. When the count
// reaches the threshold the current page is abandoned; the next failure
// after a trip starts a fresh count at one instead of tripping instantly.
type breaker struct {
	failures  int
	threshold int
}

func newBreaker(threshold int) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &breaker{threshold: threshold}
}

// failure records one more failed attempt and reports whether the page
// should now be skipped.
func (b *breaker) failure() bool {
	if b.failures >= b.threshold {
		b.failures = 1
		return false
	}
	b.failures++
	return b.failures >= b.threshold
}

func (b *breaker) success() {
	b.failures = 0
}

func (b *breaker) count() int {
	return b.failures
}
