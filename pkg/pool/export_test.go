package pool

import "time"

// SetNow replaces the pool clock until the returned func is called.
func SetNow(fn func() time.Time) (restore func()) {
	prev := nowFunc
	nowFunc = fn
	return func() { nowFunc = prev }
}
