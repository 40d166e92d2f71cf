package img

import (
	"github.com/jnb666/segnet/num"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
)

func compareArray(t *testing.T, title string, arr, expect []float32) {
	t.Logf("== %s ==\n%v", title, arr)
	if len(arr) != len(expect) {
		t.Fatalf("%s: length mismatch: expecting %d got %d", title, len(expect), len(arr))
	}
	for i := range arr {
		if arr[i] != expect[i] {
			t.Errorf("%s: mismatch at %d: expecting %g got %g", title, i, expect[i], arr[i])
		}
	}
}

func TestToBlob(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src.Set(1, 0, color.RGBA{R: 255, A: 255})
	src.Set(0, 1, color.RGBA{G: 255, A: 255})
	src.Set(1, 1, color.RGBA{B: 255, A: 255})
	b := num.NewBlob("data", 2, 3, 2, 2)
	mean := [3]float32{1, 2, 3}
	if err := ToBlob(src, b, 1, mean); err != nil {
		t.Fatal(err)
	}
	compareArray(t, "blue", b.Plane(1, 0), []float32{29, -1, -1, 254})
	compareArray(t, "green", b.Plane(1, 1), []float32{18, -2, 253, -2})
	compareArray(t, "red", b.Plane(1, 2), []float32{7, 252, -3, -3})
	compareArray(t, "sample 0", b.Values()[:12], make([]float32, 12))
}

func TestToBlobResize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1, 1))
	src.Set(0, 0, color.RGBA{R: 200, G: 150, B: 100, A: 255})
	b := num.NewBlob("data", 1, 3, 2, 3)
	if err := ToBlob(src, b, 0, MeanBGR); err != nil {
		t.Fatal(err)
	}
	for c, v := range []float32{100, 150, 200} {
		expect := make([]float32, 6)
		for i := range expect {
			expect[i] = v - MeanBGR[c]
		}
		compareArray(t, "channel", b.Plane(0, c), expect)
	}
}

func TestToBlobErrors(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if err := ToBlob(src, num.NewBlob("gray", 1, 1, 2, 2), 0, MeanBGR); err == nil {
		t.Error("expecting error for single channel blob")
	}
	if err := ToBlob(src, num.NewBlob("data", 1, 3, 2, 2), 1, MeanBGR); err == nil {
		t.Error("expecting error for sample out of range")
	}
}

func TestVOCPalette(t *testing.T) {
	p := VOCPalette(21)
	expect := map[int]color.NRGBA{
		0:  {0, 0, 0, 255},
		1:  {128, 0, 0, 255},
		2:  {0, 128, 0, 255},
		3:  {128, 128, 0, 255},
		8:  {64, 0, 0, 255},
		15: {192, 128, 128, 255},
		20: {0, 64, 128, 255},
	}
	for i, c := range expect {
		if p[i] != c {
			t.Errorf("label %d: expecting %v got %v", i, c, p[i])
		}
	}
	if p.Color(21) != Void || p.Color(-1) != Void {
		t.Error("expecting void colour for out of range label")
	}
}

func TestReadPalette(t *testing.T) {
	p, err := ReadPalette(strings.NewReader("0 0 0\n1 0 0\n0.5 1\n0.2\n"))
	if err != nil {
		t.Fatal(err)
	}
	t.Log(p)
	expect := Palette{{0, 0, 0, 255}, {0, 0, 255, 255}, {51, 255, 128, 255}}
	if len(p) != len(expect) {
		t.Fatalf("expecting %d entries got %d", len(expect), len(p))
	}
	for i := range p {
		if p[i] != expect[i] {
			t.Errorf("entry %d: expecting %v got %v", i, expect[i], p[i])
		}
	}
	for _, text := range []string{"", "1 0", "0 0 x", "0 0 2"} {
		if _, err := ReadPalette(strings.NewReader(text)); err == nil {
			t.Errorf("expecting error for %q", text)
		} else {
			t.Log(err)
		}
	}
	if _, err := LoadPalette(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expecting error for missing file")
	}
}

func TestRender(t *testing.T) {
	p := VOCPalette(3)
	m := p.Render([]float32{0, 1, 2, 255, 1, 0}, 3, 2)
	if m.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Fatalf("invalid bounds %v", m.Bounds())
	}
	if m.NRGBAAt(1, 0) != p[1] || m.NRGBAAt(2, 0) != p[2] || m.NRGBAAt(0, 1) != Void || m.NRGBAAt(2, 1) != p[0] {
		t.Errorf("render mismatch: %v", m.Pix)
	}
	path := filepath.Join(t.TempDir(), "seg.png")
	if err := Save(path, m); err != nil {
		t.Fatal(err)
	}
	m2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			if color.NRGBAModel.Convert(m2.At(x, y)) != m.At(x, y) {
				t.Errorf("pixel %d,%d: expecting %v got %v", x, y, m.At(x, y), m2.At(x, y))
			}
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expecting error for missing file")
	}
}
