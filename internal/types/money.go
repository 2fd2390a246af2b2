// README: Rounding helpers for fares, commissions and display values (single currency).
package types

import "math"

const Currency = "TWD"

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
