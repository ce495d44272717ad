package panicif

import "fmt"

// NotEqual panics when an internal state invariant is broken.
func NotEqual[T comparable](a, b T) {
	if a != b {
		panic(fmt.Sprintf("%v != %v", a, b))
	}
}
