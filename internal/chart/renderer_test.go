package chart

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"livedash/internal/types"
)

func TestComputeEmptyUsesFallbackDomains(t *testing.T) {
	l := Compute(nil, DefaultOptions())

	if l.Y.D0 != 0 || l.Y.D1 != 100 {
		t.Errorf("y domain = [%v, %v], want [0, 100]", l.Y.D0, l.Y.D1)
	}
	if l.X.D0 != 0 || l.X.D1 < 1 {
		t.Errorf("x domain = [%v, %v], want at least [0, 1]", l.X.D0, l.X.D1)
	}
	if l.Path != "" {
		t.Errorf("path = %q, want empty", l.Path)
	}
	if len(l.XTicks) == 0 || len(l.YTicks) == 0 {
		t.Error("axes have no ticks")
	}
}

func TestComputeSinglePointHasValidScale(t *testing.T) {
	l := Compute([]types.DataPoint{{Sequence: 0, Value: 42}}, DefaultOptions())

	if l.X.D1 != 1 {
		t.Errorf("x domain upper = %v, want 1", l.X.D1)
	}
	if !(l.Y.D0 < 42 && l.Y.D1 > 42) {
		t.Errorf("y domain = [%v, %v] does not bracket 42", l.Y.D0, l.Y.D1)
	}
	if !strings.HasPrefix(l.Path, "M40,") {
		t.Errorf("path = %q", l.Path)
	}
}

func TestComputeNicesVerticalDomain(t *testing.T) {
	points := []types.DataPoint{{Sequence: 0, Value: 101.53}, {Sequence: 1, Value: 102.07}, {Sequence: 2, Value: 101.8}}
	l := Compute(points, DefaultOptions())

	if l.Y.D0 != 101.5 || l.Y.D1 != 102.1 {
		t.Errorf("y domain = [%v, %v], want [101.5, 102.1]", l.Y.D0, l.Y.D1)
	}
	if l.X.D1 != 2 {
		t.Errorf("x domain upper = %v, want 2", l.X.D1)
	}
	if first := l.Points[0]; first.X != 40 {
		t.Errorf("first x = %v, want left margin", first.X)
	}
	if last := l.Points[2]; last.X != 780 {
		t.Errorf("last x = %v, want width-right margin", last.X)
	}
	for _, p := range l.Points {
		if p.Y < 10 || p.Y > 370 {
			t.Errorf("y %v outside plot area", p.Y)
		}
	}
}

func TestComputeExtremeValuesStayFinite(t *testing.T) {
	points := []types.DataPoint{{Sequence: 0, Value: 1e308}, {Sequence: 1, Value: -1e308}, {Sequence: 2, Value: 0}}
	l := Compute(points, DefaultOptions())

	if math.IsInf(l.Y.D1-l.Y.D0, 0) || math.IsNaN(l.Y.D1-l.Y.D0) {
		t.Fatalf("y domain = [%v, %v]", l.Y.D0, l.Y.D1)
	}
	if strings.Contains(l.Path, "NaN") || strings.Contains(l.Path, "Inf") {
		t.Fatalf("path = %q", l.Path)
	}
	for i, p := range l.Points {
		if math.IsNaN(p.Y) || p.Y < 10 || p.Y > 370 {
			t.Errorf("point %d y = %v, want within [10, 370]", i, p.Y)
		}
	}
	if l.Points[0].Y >= l.Points[1].Y {
		t.Errorf("largest value should plot above smallest: %v vs %v", l.Points[0].Y, l.Points[1].Y)
	}
}

func TestComputeTickCountIsBounded(t *testing.T) {
	points := make([]types.DataPoint, 200)
	for i := range points {
		points[i] = types.DataPoint{Sequence: int64(i), Value: float64(i%17) * 3.3}
	}
	l := Compute(points, DefaultOptions())
	if len(l.XTicks) > 12 || len(l.YTicks) > 12 {
		t.Fatalf("ticks x=%d y=%d", len(l.XTicks), len(l.YTicks))
	}
}

func TestWriteSVGEmptyChartHasAxesOnly(t *testing.T) {
	var buf bytes.Buffer
	WriteSVG(&buf, Compute(nil, DefaultOptions()), "#000")
	out := buf.String()

	if !strings.Contains(out, "<svg") || !strings.Contains(out, "</svg>") {
		t.Fatalf("not an svg document: %s", out)
	}
	if strings.Contains(out, "<path") {
		t.Error("empty chart drew a path")
	}
	if !strings.Contains(out, ">100<") {
		t.Error("y axis missing fallback upper label")
	}
}

func TestRendererReplacesOutputEachCall(t *testing.T) {
	r := NewSVGRenderer(DefaultOptions())
	ctx := context.Background()

	if err := r.Render(ctx, []types.DataPoint{{Sequence: 0, Value: 1}, {Sequence: 1, Value: 2}}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	first := string(r.SVG())
	if strings.Count(first, "<path") != 1 {
		t.Fatalf("expected one line path: %s", first)
	}

	if err := r.Render(ctx, nil); err != nil {
		t.Fatalf("Render empty: %v", err)
	}
	if strings.Contains(string(r.SVG()), "<path") {
		t.Error("previous output survived redraw")
	}
	if r.Renders() != 2 {
		t.Errorf("renders = %d, want 2", r.Renders())
	}
}
