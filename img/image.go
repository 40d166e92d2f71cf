// Package img converts between images and network blobs.
package img

import (
	"bufio"
	"github.com/jnb666/segnet/num"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"
)

// Per channel means of the PASCAL VOC training set in blue, green, red order.
var MeanBGR = [3]float32{104.006, 116.668, 122.678}

// Load decodes a PNG or JPEG image file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "img.Load")
	}
	defer f.Close()
	m, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "img.Load: error decoding %s", path)
	}
	return m, nil
}

// Save encodes the image as a PNG file.
func Save(path string, m image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "img.Save")
	}
	if err = png.Encode(f, m); err != nil {
		f.Close()
		return errors.Wrapf(err, "img.Save: error encoding %s", path)
	}
	return f.Close()
}

// Resize scales the image with nearest neighbour interpolation. It is a no-op if the size is unchanged.
func Resize(m image.Image, width, height int) image.Image {
	r := m.Bounds()
	if r.Dx() == width && r.Dy() == height {
		return m
	}
	return resize.Resize(uint(width), uint(height), m, resize.NearestNeighbor)
}

// ToBlob copies the image into sample n of a 3 channel blob, resized to the blob height and width.
// Channels are stored in blue, green, red order with mean subtracted from each. Any queued
// functions which use the blob must be completed first.
func ToBlob(m image.Image, b *num.Blob, n int, mean [3]float32) error {
	if b.Channels() != 3 {
		return errors.Errorf("img.ToBlob: %s blob should have 3 channels, got %d", b.Name, b.Channels())
	}
	if n < 0 || n >= b.Num() {
		return errors.Errorf("img.ToBlob: sample %d out of range for %s", n, b.Name)
	}
	width, height := b.Width(), b.Height()
	m = Resize(m, width, height)
	r := m.Bounds()
	plane := [3][]float32{b.Plane(n, 0), b.Plane(n, 1), b.Plane(n, 2)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cr, cg, cb, _ := m.At(r.Min.X+x, r.Min.Y+y).RGBA()
			i := y*width + x
			plane[0][i] = float32(cb>>8) - mean[0]
			plane[1][i] = float32(cg>>8) - mean[1]
			plane[2][i] = float32(cr>>8) - mean[2]
		}
	}
	return nil
}

// Palette maps each label to a display colour.
type Palette []color.NRGBA

// Void is used for labels outside the palette range.
var Void = color.NRGBA{R: 224, G: 224, B: 192, A: 255}

// VOCPalette generates the PASCAL VOC colour map for n labels.
func VOCPalette(n int) Palette {
	p := make(Palette, n)
	for i := range p {
		var r, g, b uint8
		c := i
		for j := uint(0); j < 8; j++ {
			r |= uint8(c&1) << (7 - j)
			g |= uint8((c>>1)&1) << (7 - j)
			b |= uint8((c>>2)&1) << (7 - j)
			c >>= 3
		}
		p[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}

// ReadPalette parses a pixel table with three whitespace separated values in [0,1]
// for each label in blue, green, red order.
func ReadPalette(r io.Reader) (Palette, error) {
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanWords)
	var p Palette
	var bgr [3]uint8
	i := 0
	for s.Scan() {
		v, err := strconv.ParseFloat(s.Text(), 32)
		if err != nil {
			return nil, errors.Wrapf(err, "img.ReadPalette: entry %d", len(p))
		}
		if v < 0 || v > 1 {
			return nil, errors.Errorf("img.ReadPalette: entry %d value %g out of range", len(p), v)
		}
		bgr[i] = uint8(v*255 + 0.5)
		if i++; i == 3 {
			p = append(p, color.NRGBA{R: bgr[2], G: bgr[1], B: bgr[0], A: 255})
			i = 0
		}
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "img.ReadPalette")
	}
	if i != 0 {
		return nil, errors.Errorf("img.ReadPalette: incomplete entry %d", len(p))
	}
	if len(p) == 0 {
		return nil, errors.New("img.ReadPalette: no entries")
	}
	return p, nil
}

// LoadPalette reads a pixel table file.
func LoadPalette(path string) (Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "img.LoadPalette")
	}
	defer f.Close()
	p, err := ReadPalette(f)
	return p, errors.Wrap(err, path)
}

// Color returns the colour for a label value.
func (p Palette) Color(label float32) color.NRGBA {
	if label < 0 || int(label) >= len(p) {
		return Void
	}
	return p[int(label)]
}

// Render converts a plane of label values with the given dimensions to an image.
func (p Palette) Render(labels []float32, width, height int) *image.NRGBA {
	if len(labels) != width*height {
		panic("Palette.Render: label plane size mismatch")
	}
	m := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.SetNRGBA(x, y, p.Color(labels[y*width+x]))
		}
	}
	return m
}
