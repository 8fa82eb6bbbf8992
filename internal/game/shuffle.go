package game

// Shuffle permutes s in place with Fisher-Yates, walking from the last element
// to the first and swapping each with a partner drawn by intn(i+1).
func Shuffle[T any](s []T, intn func(n int) int) {
	for i := len(s) - 1; i > 0; i-- {
		j := intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
