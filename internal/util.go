package internal

func IsPowerOfTwo(n int) bool {
	if n <= 0 {
		return false
	}
	return n&(n-1) == 0
}

// DurationToPollTimeout rounds a nanosecond wait up to whole milliseconds so the loop
// never spins on a zero timeout while a deadline is still in the future.
func DurationToPollTimeout(ns int64) int {
	if ns < 0 {
		return -1
	}
	ms := (ns + 999_999) / 1_000_000
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}
