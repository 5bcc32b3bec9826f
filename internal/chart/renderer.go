package chart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"livedash/internal/interfaces"
	"livedash/internal/logger"
	"livedash/internal/types"

	svg "github.com/ajstarks/svgo"
)

const (
	marginLeft   = 40
	marginRight  = 20
	marginTop    = 10
	marginBottom = 30

	// niceCount is the tick density used to round the vertical domain.
	niceCount = 10

	tickSize = 6

	// maxMagnitude bounds plotted values so the domain width stays finite.
	maxMagnitude = 1e300
)

// DefaultDomain is used for the vertical axis when there is nothing to plot.
var DefaultDomain = [2]float64{0, 100}

type Options struct {
	Width  int
	Height int
	Ticks  int
	Stroke string
}

func DefaultOptions() Options {
	return Options{Width: 800, Height: 400, Ticks: 6, Stroke: "#0ea5e9"}
}

// Tick is one labelled axis mark.
type Tick struct {
	Value float64 `json:"value"`
	Pos   float64 `json:"pos"`
	Label string  `json:"label"`
}

// Layout is everything needed to draw one frame of the chart.
type Layout struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	X      Linear  `json:"x"`
	Y      Linear  `json:"y"`
	XTicks []Tick  `json:"x_ticks"`
	YTicks []Tick  `json:"y_ticks"`
	Path   string  `json:"path"`
	Points []Point `json:"-"`
}

// Compute maps points into pixel space. It never fails: an empty set yields
// axes over the default domain and a flat series is widened around its value.
// Values beyond ±maxMagnitude are drawn at the bound.
func Compute(points []types.DataPoint, opts Options) Layout {
	opts = withDefaults(opts)
	width, height := float64(opts.Width), float64(opts.Height)

	x := NewLinear(0, math.Max(1, float64(len(points)-1)), marginLeft, width-marginRight)

	lo, hi := DefaultDomain[0], DefaultDomain[1]
	if len(points) > 0 {
		lo, hi = extent(points)
		if lo == hi {
			lo, hi = lo-1, hi+1
		}
	}
	y := NewLinear(lo, hi, height-marginBottom, marginTop).Nice(niceCount)

	projected := make([]Point, len(points))
	for i, p := range points {
		projected[i] = Point{X: x.Map(float64(i)), Y: y.Map(clampValue(p.Value))}
	}

	return Layout{
		Width:  opts.Width,
		Height: opts.Height,
		X:      x,
		Y:      y,
		XTicks: axisTicks(x, opts.Ticks),
		YTicks: axisTicks(y, opts.Ticks),
		Path:   MonotoneXPath(projected),
		Points: projected,
	}
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Width <= marginLeft+marginRight {
		opts.Width = def.Width
	}
	if opts.Height <= marginTop+marginBottom {
		opts.Height = def.Height
	}
	if opts.Ticks <= 0 {
		opts.Ticks = def.Ticks
	}
	if opts.Stroke == "" {
		opts.Stroke = def.Stroke
	}
	return opts
}

func extent(points []types.DataPoint) (lo, hi float64) {
	lo, hi = clampValue(points[0].Value), clampValue(points[0].Value)
	for _, p := range points[1:] {
		v := clampValue(p.Value)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func clampValue(v float64) float64 {
	return math.Max(-maxMagnitude, math.Min(maxMagnitude, v))
}

func axisTicks(s Linear, count int) []Tick {
	format := s.TickFormat(count)
	values := s.Ticks(count)
	ticks := make([]Tick, len(values))
	for i, v := range values {
		ticks[i] = Tick{Value: v, Pos: s.Map(v), Label: format(v)}
	}
	return ticks
}

// WriteSVG draws the layout from scratch.
func WriteSVG(w io.Writer, l Layout, stroke string) {
	canvas := svg.New(w)
	canvas.Start(l.Width, l.Height)

	if l.Path != "" {
		canvas.Path(l.Path, fmt.Sprintf("fill:none;stroke:%s;stroke-width:2", stroke))
	}

	axisStyle := "stroke:#334155;stroke-width:1"
	labelStyle := "fill:#334155;font-size:10px;font-family:sans-serif"

	canvas.Gtransform(fmt.Sprintf("translate(0,%d)", l.Height-marginBottom))
	canvas.Line(px(l.X.R0), 0, px(l.X.R1), 0, axisStyle)
	for _, t := range l.XTicks {
		canvas.Line(px(t.Pos), 0, px(t.Pos), tickSize, axisStyle)
		canvas.Text(px(t.Pos), tickSize+12, t.Label, labelStyle+";text-anchor:middle")
	}
	canvas.Gend()

	canvas.Gtransform(fmt.Sprintf("translate(%d,0)", marginLeft))
	canvas.Line(0, px(l.Y.R1), 0, px(l.Y.R0), axisStyle)
	for _, t := range l.YTicks {
		canvas.Line(-tickSize, px(t.Pos), 0, px(t.Pos), axisStyle)
		canvas.Text(-tickSize-3, px(t.Pos)+3, t.Label, labelStyle+";text-anchor:end")
	}
	canvas.Gend()

	canvas.End()
}

func px(v float64) int {
	return int(math.Round(v))
}

// SVGRenderer redraws the whole chart on every call and keeps only the most
// recent output.
type SVGRenderer struct {
	opts Options

	mu      sync.RWMutex
	output  []byte
	renders int64
}

var _ interfaces.Renderer = (*SVGRenderer)(nil)

func NewSVGRenderer(opts Options) *SVGRenderer {
	r := &SVGRenderer{opts: withDefaults(opts)}
	_ = r.Render(context.Background(), nil)
	r.renders = 0
	return r
}

func (r *SVGRenderer) Render(ctx context.Context, points []types.DataPoint) error {
	op := logger.StartOperation(ctx, "chart.Render", "points", len(points))

	layout := Compute(points, r.opts)
	var buf bytes.Buffer
	WriteSVG(&buf, layout, r.opts.Stroke)

	r.mu.Lock()
	r.output = buf.Bytes()
	r.renders++
	r.mu.Unlock()

	op.End("bytes", buf.Len())
	return nil
}

// SVG returns the latest rendered document.
func (r *SVGRenderer) SVG() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.output
}

// Renders counts Render calls since construction.
func (r *SVGRenderer) Renders() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.renders
}
