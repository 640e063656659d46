package querylang

import (
	"math"
	"slices"
)

// Statistical helpers shared by the multi-argument scalar functions and the
// aggregation engines. Inputs are never empty unless stated.

// flatten expands list arguments into their elements and drops Nulls.
func flatten(args []Value) []Value {
	out := make([]Value, 0, len(args))
	for _, a := range args {
		for _, v := range a.Values() {
			if !v.IsNull() {
				out = append(out, v)
			}
		}
	}
	return out
}

// Numbers returns the numeric interpretation of every non-null value in
// args, list elements included. Non-numeric values are skipped.
func Numbers(args []Value) []float64 {
	var out []float64
	for _, v := range flatten(args) {
		if f, ok := v.AsNumber(); ok {
			out = append(out, f)
		}
	}
	return out
}

func Sum(nums []float64) float64 {
	var s float64
	for _, n := range nums {
		s += n
	}
	return s
}

func Mean(nums []float64) float64 {
	return Sum(nums) / float64(len(nums))
}

func Min(nums []float64) float64 {
	return slices.Min(nums)
}

func Max(nums []float64) float64 {
	return slices.Max(nums)
}

// Range is max - min.
func Range(nums []float64) float64 {
	return slices.Max(nums) - slices.Min(nums)
}

// Median is the middle value, or the mean of the two middle values.
func Median(nums []float64) float64 {
	s := slices.Clone(nums)
	slices.Sort(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Variance is the sample variance (n-1). A single value has variance 0.
func Variance(nums []float64) float64 {
	if len(nums) < 2 {
		return 0
	}
	m := Mean(nums)
	var ss float64
	for _, n := range nums {
		d := n - m
		ss += d * d
	}
	return ss / float64(len(nums)-1)
}

// Stdev is the sample standard deviation.
func Stdev(nums []float64) float64 {
	return math.Sqrt(Variance(nums))
}

// Mode returns the most frequent value; ties go to the smallest value
// under Order.
func Mode(vals []Value) Value {
	if len(vals) == 0 {
		return NullValue()
	}
	counts := make(map[string]int, len(vals))
	top := 0
	for _, v := range vals {
		k := v.AsText()
		counts[k]++
		top = max(top, counts[k])
	}
	var best Value
	found := false
	for _, v := range vals {
		if counts[v.AsText()] != top {
			continue
		}
		if !found || Order(v, best) < 0 {
			best, found = v, true
		}
	}
	return best
}

// DistinctCount counts distinct non-null values by text.
func DistinctCount(vals []Value) int {
	seen := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		seen[v.AsText()] = struct{}{}
	}
	return len(seen)
}

// Dedup removes repeated values by text, keeping first occurrences in order.
func Dedup(vals []Value) []Value {
	seen := make(map[string]struct{}, len(vals))
	out := make([]Value, 0, len(vals))
	for _, v := range vals {
		k := v.AsText()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
