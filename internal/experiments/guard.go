package experiments

import "fmt"

// guarded invokes a user-supplied callback, converting a panic into an error
// so the caller can log and ignore it. All completion predicates, outcome
// rules and assignment callbacks cross this boundary; user code must never be
// able to take down an assignment or conversion.
func guarded[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in callback: %v", p)
		}
	}()
	return fn()
}
