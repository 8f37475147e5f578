package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Min/Max for convenience.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Abs for signed integers and floats.
func Abs[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

// Near reports |a-b| < eps.
func Near[T constraints.Float](a, b, eps T) bool {
	return Abs(a-b) < eps
}

// StepToward moves cur toward target by at most step (step > 0).
func StepToward[T constraints.Signed | constraints.Float](cur, target, step T) T {
	d := target - cur
	switch {
	case d > step:
		return cur + step
	case d < -step:
		return cur - step
	default:
		return target
	}
}
