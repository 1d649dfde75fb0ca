package nn

// Rand is the uniform random source consumed by every mutation, search and
// crossover operation. *math/rand.Rand satisfies it.
type Rand interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}
