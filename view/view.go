// Package view renders blob contents and run statistics as SVG plots.
package view

import (
	"github.com/jnb666/segnet/num"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"io"
	"os"
)

// Plane is a single spatial plane of a blob which implements the plotter.GridXYZ interface.
// Row 0 of the blob is drawn at the top.
type Plane struct {
	Values        []float32
	Width, Height int
}

// NewPlane returns the data or gradient values for sample n channel c. Call Finish on the queue first.
func NewPlane(b *num.Blob, n, c int, grad bool) Plane {
	p := Plane{Width: b.Width(), Height: b.Height()}
	if grad {
		p.Values = b.PlaneDiff(n, c)
	} else {
		p.Values = b.Plane(n, c)
	}
	return p
}

func (p Plane) Dims() (c, r int) { return p.Width, p.Height }

func (p Plane) Z(c, r int) float64 { return float64(p.Values[(p.Height-1-r)*p.Width+c]) }

func (p Plane) X(c int) float64 { return float64(c) }

func (p Plane) Y(r int) float64 { return float64(r) }

// HeatMap plots the grid values using a heat colour palette.
func HeatMap(title string, g plotter.GridXYZ) *plot.Plot {
	p := newPlot(title)
	h := plotter.NewHeatMap(g, palette.Heat(64, 1))
	if h.Min == h.Max {
		h.Min, h.Max = h.Min-0.5, h.Max+0.5
	}
	p.Add(h)
	return p
}

// LinePlot plots one or more series against their index, starting from 1.
func LinePlot(title string, names []string, series ...[]float64) (*plot.Plot, error) {
	p := newPlot(title)
	p.Add(plotter.NewGrid())
	for i, vals := range series {
		pts := make(plotter.XYs, len(vals))
		for j, y := range vals {
			pts[j].X, pts[j].Y = float64(j+1), y
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrap(err, "view.LinePlot")
		}
		l.Width = 2
		l.Color = plotutil.Color(i)
		p.Add(l)
		if i < len(names) {
			p.Legend.Add(names[i]+" ", l)
		}
	}
	return p, nil
}

func newPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Font.Size = 12
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = 10
	p.Y.Tick.Label.Font.Size = 10
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = 12
	return p
}

// Screen resolution used to convert plot sizes in pixels to points
const dpi = 96

// WriteSVG renders the plot with the given size in pixels.
func WriteSVG(w io.Writer, p *plot.Plot, width, height int) error {
	writer, err := p.WriterTo(vg.Length(width)*vg.Inch/dpi, vg.Length(height)*vg.Inch/dpi, "svg")
	if err != nil {
		return errors.Wrap(err, "view.WriteSVG")
	}
	_, err = writer.WriteTo(w)
	return errors.Wrap(err, "view.WriteSVG")
}

// SaveSVG writes the plot to a file.
func SaveSVG(path string, p *plot.Plot, width, height int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "view.SaveSVG")
	}
	if err = WriteSVG(f, p, width, height); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
