package chart

import (
	"math"
	"strconv"
	"strings"
)

// Point is a projected pixel coordinate.
type Point struct {
	X, Y float64
}

// MonotoneXPath builds an SVG path through pts using monotone cubic
// interpolation in x (Fritsch-Carlson tangents), so the curve never
// overshoots between samples. pts must have non-decreasing X.
func MonotoneXPath(pts []Point) string {
	pts = dedupe(pts)
	var b strings.Builder

	switch len(pts) {
	case 0:
		return ""
	case 1:
		b.WriteString("M")
		writePair(&b, pts[0])
		return b.String()
	case 2:
		b.WriteString("M")
		writePair(&b, pts[0])
		b.WriteString("L")
		writePair(&b, pts[1])
		return b.String()
	}

	n := len(pts)
	tangents := make([]float64, n)
	for i := 1; i < n-1; i++ {
		tangents[i] = interiorSlope(pts[i-1], pts[i], pts[i+1])
	}
	tangents[0] = endSlope(pts[0], pts[1], tangents[1])
	tangents[n-1] = endSlope(pts[n-2], pts[n-1], tangents[n-2])

	b.WriteString("M")
	writePair(&b, pts[0])
	for i := 0; i < n-1; i++ {
		p0, p1 := pts[i], pts[i+1]
		dx := (p1.X - p0.X) / 3
		b.WriteString("C")
		writePair(&b, Point{p0.X + dx, p0.Y + dx*tangents[i]})
		b.WriteString(",")
		writePair(&b, Point{p1.X - dx, p1.Y - dx*tangents[i+1]})
		b.WriteString(",")
		writePair(&b, p1)
	}
	return b.String()
}

// interiorSlope is the tangent at p1, clamped so the segment stays monotone.
func interiorSlope(p0, p1, p2 Point) float64 {
	h0 := p1.X - p0.X
	h1 := p2.X - p1.X
	s0 := safeDiv(p1.Y-p0.Y, h0)
	s1 := safeDiv(p2.Y-p1.Y, h1)
	p := (s0*h1 + s1*h0) / (h0 + h1)
	t := (sign(s0) + sign(s1)) * math.Min(math.Min(math.Abs(s0), math.Abs(s1)), 0.5*math.Abs(p))
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0
	}
	return t
}

// endSlope derives an end tangent from the segment slope and the known
// tangent at the other end.
func endSlope(p0, p1 Point, t float64) float64 {
	h := p1.X - p0.X
	if h == 0 {
		return t
	}
	return (3*(p1.Y-p0.Y)/h - t) / 2
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// dedupe drops consecutive identical points.
func dedupe(pts []Point) []Point {
	if len(pts) < 2 {
		return pts
	}
	out := make([]Point, 0, len(pts))
	out = append(out, pts[0])
	for _, p := range pts[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

func writePair(b *strings.Builder, p Point) {
	b.WriteString(formatCoord(p.X))
	b.WriteString(",")
	b.WriteString(formatCoord(p.Y))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
