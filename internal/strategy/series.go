package strategy

import (
	"math"

	"github.com/shopspring/decimal"
)

// series is a fixed-capacity rolling window of prices used by the reference
// strategies. Not safe for concurrent use; each strategy owns its own.
type series struct {
	values []decimal.Decimal
	cap    int
}

func newSeries(capacity int) *series {
	return &series{cap: capacity}
}

func (s *series) push(v decimal.Decimal) {
	s.values = append(s.values, v)
	if len(s.values) > s.cap {
		s.values = s.values[len(s.values)-s.cap:]
	}
}

func (s *series) full() bool {
	return len(s.values) >= s.cap
}

func (s *series) last() decimal.Decimal {
	if len(s.values) == 0 {
		return decimal.Zero
	}
	return s.values[len(s.values)-1]
}

// sma returns the simple moving average of the most recent n values.
func (s *series) sma(n int) decimal.Decimal {
	if n <= 0 || len(s.values) < n {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range s.values[len(s.values)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// stddev returns the population standard deviation of the most recent n
// values.
func (s *series) stddev(n int) decimal.Decimal {
	if n <= 1 || len(s.values) < n {
		return decimal.Zero
	}
	mean := s.sma(n)
	sum := decimal.Zero
	for _, v := range s.values[len(s.values)-n:] {
		d := v.Sub(mean)
		sum = sum.Add(d.Mul(d))
	}
	variance := sum.Div(decimal.NewFromInt(int64(n)))
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(f))
}

// highest and lowest scan the most recent n values, excluding the last
// excludeLast entries (so a breakout compares against the prior channel).
func (s *series) highest(n, excludeLast int) decimal.Decimal {
	vals := s.window(n, excludeLast)
	if len(vals) == 0 {
		return decimal.Zero
	}
	max := vals[0]
	for _, v := range vals[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

func (s *series) lowest(n, excludeLast int) decimal.Decimal {
	vals := s.window(n, excludeLast)
	if len(vals) == 0 {
		return decimal.Zero
	}
	min := vals[0]
	for _, v := range vals[1:] {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}

func (s *series) window(n, excludeLast int) []decimal.Decimal {
	end := len(s.values) - excludeLast
	if end <= 0 {
		return nil
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return s.values[start:end]
}
