package render

import (
	"image/color"
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
)

// stepMap is a palette.ColorMap that interpolates linearly between evenly
// spaced colour stops.
type stepMap struct {
	stops    []color.NRGBA
	min, max float64
	alpha    float64
}

// NewOrRd returns the ColorBrewer OrRd sequential scale stretched over
// [min, max].
func NewOrRd(min, max float64) (palette.ColorMap, error) {
	p, err := brewer.GetPalette(brewer.TypeSequential, "OrRd", 9)
	if err != nil {
		return nil, eris.Wrap(err, "render: OrRd palette")
	}
	return newStepMap(p.Colors(), min, max), nil
}

func newStepMap(colors []color.Color, min, max float64) *stepMap {
	stops := make([]color.NRGBA, len(colors))
	for i, c := range colors {
		stops[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	return &stepMap{stops: stops, min: min, max: max, alpha: 1}
}

func (m *stepMap) At(v float64) (color.Color, error) {
	switch {
	case math.IsNaN(v):
		return nil, palette.ErrNaN
	case v < m.min:
		return nil, palette.ErrUnderflow
	case v > m.max:
		return nil, palette.ErrOverflow
	}

	frac := 1.0
	if m.max > m.min {
		frac = (v - m.min) / (m.max - m.min)
	}
	pos := frac * float64(len(m.stops)-1)
	i := min(int(pos), len(m.stops)-2)
	t := pos - float64(i)
	a, b := m.stops[i], m.stops[i+1]

	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.NRGBA{
		R: lerp(a.R, b.R),
		G: lerp(a.G, b.G),
		B: lerp(a.B, b.B),
		A: uint8(math.Round(float64(lerp(a.A, b.A)) * m.alpha)),
	}, nil
}

func (m *stepMap) Max() float64 { return m.max }
func (m *stepMap) SetMax(v float64) { m.max = v }
func (m *stepMap) Min() float64 { return m.min }
func (m *stepMap) SetMin(v float64) { m.min = v }
func (m *stepMap) Alpha() float64 { return m.alpha }

func (m *stepMap) SetAlpha(a float64) {
	if a < 0 || a > 1 {
		panic("render: alpha out of range")
	}
	m.alpha = a
}

func (m *stepMap) Palette(n int) palette.Palette {
	colors := make([]color.Color, n)
	for i := range colors {
		v := m.min
		if n > 1 {
			v += (m.max - m.min) * float64(i) / float64(n-1)
		}
		c, err := m.At(v)
		if err != nil {
			c = color.Transparent
		}
		colors[i] = c
	}
	return plainPalette(colors)
}

type plainPalette []color.Color

func (p plainPalette) Colors() []color.Color { return p }
