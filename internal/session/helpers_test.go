package session

import "github.com/loqalabs/loqa-listen/internal/config"

const testRate = 16000

func testSessionConfig() config.SessionConfig {
	return config.Default().Session
}

// loud returns n samples alternating around ±1000.
func loud(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 1000
		} else {
			out[i] = -1000
		}
	}
	return out
}

// ramp returns n loud samples whose values encode their position modulo
// 20000, so reordering or duplication shows up in comparisons.
func ramp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(1000 + (start+i)%20000)
	}
	return out
}

func quiet(n int) []int16 {
	return make([]int16, n)
}
