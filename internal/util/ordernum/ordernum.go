package ordernum

import (
	"fmt"
	"math/rand"
)

const Prefix = "#SWEETY-"

// Generate returns a display number such as #SWEETY-48213. Numbers are random
// and not checked for collisions; stripeSessionId stays the real key.
func Generate() string {
	return fmt.Sprintf("%s%05d", Prefix, 10000+rand.Intn(90000))
}

// Valid reports whether number has the Generate shape.
func Valid(number string) bool {
	if len(number) != len(Prefix)+5 || number[:len(Prefix)] != Prefix {
		return false
	}
	for i := len(Prefix); i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
	}
	return true
}
