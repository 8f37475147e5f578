package timex

import "time"

// Ms converts a millisecond count from config into a Duration.
func Ms[T ~int | ~uint16 | ~uint32](ms T) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// HalfPeriod returns the toggle interval of a 50% duty square wave,
// 500_000/hz microseconds with integer truncation. hz==0 yields 0.
func HalfPeriod(hz uint32) time.Duration {
	if hz == 0 {
		return 0
	}
	return time.Duration(500_000/hz) * time.Microsecond
}

// Sleep waits for d or until done is closed. It reports false when
// interrupted.
func Sleep(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
