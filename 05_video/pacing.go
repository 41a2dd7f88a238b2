package video

// Pace splits total seconds evenly over n images. The last slot absorbs the
// floating point remainder so the slots always add up to total.
func Pace(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	per := total / float64(n)
	out := make([]float64, n)
	var sum float64
	for i := 0; i < n-1; i++ {
		out[i] = per
		sum += per
	}
	out[n-1] = total - sum
	return out
}
