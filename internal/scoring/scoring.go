// Package scoring computes the points awarded for an answer from its latency.
//
// A correct answer given at the very start of a window of T seconds is worth
// MaxPoints, one given at the last millisecond is worth MinPoints, linearly in
// between. Incorrect and out-of-window answers are worth nothing.
package scoring

import "github.com/shopspring/decimal"

var (
	MaxPoints = decimal.NewFromInt(1000)
	MinPoints = decimal.NewFromInt(100)

	// span is MaxPoints - MinPoints, spread over the window.
	span = MaxPoints.Sub(MinPoints)
)

// InWindow reports whether an answer elapsedMs into a window of windowSeconds is on time.
func InWindow(elapsedMs int64, windowSeconds int) bool {
	return windowSeconds > 0 && elapsedMs >= 0 && elapsedMs <= int64(windowSeconds)*1000
}

// Points returns 1000 - (900 / windowSeconds) * (elapsedMs / 1000), or zero when
// the answer is outside the window.
//
// The result is rounded half away from zero to two decimal places. Scores are
// stored, compared and displayed at that precision, so two answers differing by
// less than a hundredth of a point are worth the same.
func Points(elapsedMs int64, windowSeconds int) decimal.Decimal {
	if !InWindow(elapsedMs, windowSeconds) {
		return decimal.Zero
	}

	lost := span.Mul(decimal.NewFromInt(elapsedMs)).
		Div(decimal.NewFromInt(int64(windowSeconds) * 1000))

	return MaxPoints.Sub(lost).Round(2)
}

// Delta returns the points to add to a player's score for an answer.
func Delta(elapsedMs int64, windowSeconds int, correct bool) decimal.Decimal {
	if !correct {
		return decimal.Zero
	}
	return Points(elapsedMs, windowSeconds)
}
