package query

import (
	"reflect"
	"testing"

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

func joinFixture() (*dataset.Dataset, *dataset.Dataset) {
	s, n := querylang.StrValue, querylang.NumValue
	left := dataset.FromRows([]string{"k", "l"}, []dataset.Row{
		{"k": s("a"), "l": n(1)},
		{"k": s("b"), "l": n(2)},
		{"k": querylang.NullValue(), "l": n(3)},
	})
	right := dataset.FromRows([]string{"k", "r"}, []dataset.Row{
		{"k": s("b"), "r": s("x")},
		{"k": s("c"), "r": s("y")},
		{"k": s("b"), "r": s("z")},
		{"k": querylang.NullValue(), "r": s("w")},
	})
	return left, right
}

func TestJoinDatasets(t *testing.T) {
	tests := []struct {
		kind  string
		wantL []string
		wantR []string
	}{
		{joinInner, []string{"2", "2"}, []string{"x", "z"}},
		{joinLeft, []string{"1", "2", "2", "3"}, []string{"", "x", "z", ""}},
		{joinRight, []string{"2", "", "2", ""}, []string{"x", "y", "z", "w"}},
		{joinOuter, []string{"1", "2", "2", "3", "", ""}, []string{"", "x", "z", "", "y", "w"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			left, right := joinFixture()
			out := joinDatasets(left, right, []string{"k"}, tt.kind)
			if !reflect.DeepEqual(out.Columns, []string{"k", "l", "r"}) {
				t.Fatalf("columns = %v", out.Columns)
			}
			var gotL, gotR []string
			for _, r := range out.Rows {
				gotL = append(gotL, r["l"].AsText())
				gotR = append(gotR, r["r"].AsText())
			}
			if !reflect.DeepEqual(gotL, tt.wantL) || !reflect.DeepEqual(gotR, tt.wantR) {
				t.Errorf("l = %q r = %q, want %q %q", gotL, gotR, tt.wantL, tt.wantR)
			}
		})
	}
}

func TestJoinDatasetsRightOverrides(t *testing.T) {
	s := querylang.StrValue
	left := dataset.FromRows([]string{"k", "v"}, []dataset.Row{{"k": s("a"), "v": s("left")}})
	right := dataset.FromRows([]string{"k", "v"}, []dataset.Row{{"k": s("a"), "v": s("right")}})
	out := joinDatasets(left, right, []string{"k"}, joinInner)
	if got := out.Get(0, "v").AsText(); got != "right" {
		t.Errorf("v = %q, want right", got)
	}
}
