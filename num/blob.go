package num

import (
	"fmt"
)

// Blob is a 4 dimensional (num, channels, height, width) float32 array with an
// associated gradient buffer of the same shape. Storage is grown only when the
// element count exceeds the current capacity, so reshaping to a smaller size
// reuses the existing buffers.
type Blob struct {
	Name       string
	shape      [4]int
	data, diff Array
	dataBuf    []float32
	diffBuf    []float32
}

// NewBlob allocates a new zero filled blob with the given shape.
func NewBlob(name string, n, c, h, w int) *Blob {
	b := &Blob{Name: name}
	b.Reshape(n, c, h, w)
	return b
}

// Reshape sets a new shape, returns true if this is different from the previous one.
// The data and gradient buffers are reallocated only when the new count exceeds their
// capacity, otherwise the existing storage is reused and its contents are left as they were.
func (b *Blob) Reshape(n, c, h, w int) bool {
	if n < 0 || c < 0 || h < 0 || w < 0 {
		panic(fmt.Sprintf("Blob.Reshape: invalid shape %d %d %d %d", n, c, h, w))
	}
	shape := [4]int{n, c, h, w}
	if b.data != nil && shape == b.shape {
		return false
	}
	count := n * c * h * w
	if count > cap(b.dataBuf) {
		b.dataBuf = make([]float32, count)
		b.diffBuf = make([]float32, count)
	}
	b.shape = shape
	b.data = Wrap(b.dataBuf[:count], n, c, h, w)
	b.diff = Wrap(b.diffBuf[:count], n, c, h, w)
	return true
}

// ReshapeLike sets the shape to be the same as another blob.
func (b *Blob) ReshapeLike(other *Blob) bool {
	return b.Reshape(other.Num(), other.Channels(), other.Height(), other.Width())
}

func (b *Blob) Num() int { return b.shape[0] }

func (b *Blob) Channels() int { return b.shape[1] }

func (b *Blob) Height() int { return b.shape[2] }

func (b *Blob) Width() int { return b.shape[3] }

// Shape returns a copy of the dimensions in N, C, H, W order
func (b *Blob) Shape() []int { return []int{b.shape[0], b.shape[1], b.shape[2], b.shape[3]} }

func (b *Blob) Count() int { return b.shape[0] * b.shape[1] * b.shape[2] * b.shape[3] }

// Offset returns the flat index of element (n, c, h, w) with bounds checking.
func (b *Blob) Offset(n, c, h, w int) int {
	if n < 0 || n >= b.shape[0] || c < 0 || c >= b.shape[1] || h < 0 || h >= b.shape[2] || w < 0 || w >= b.shape[3] {
		panic(fmt.Sprintf("Blob.Offset: index (%d %d %d %d) out of range for %s", n, c, h, w, b.ShapeString()))
	}
	return ((n*b.shape[1]+c)*b.shape[2]+h)*b.shape[3] + w
}

// Value array
func (b *Blob) Data() Array { return b.data }

// Gradient array
func (b *Blob) Diff() Array { return b.diff }

// Values as a slice, direct access bypasses the queue so call Finish first if needed.
func (b *Blob) Values() []float32 { return b.data.Float32s() }

// Gradients as a slice, direct access bypasses the queue so call Finish first if needed.
func (b *Blob) Grads() []float32 { return b.diff.Float32s() }

// Plane returns the values for a single (n, c) spatial plane.
func (b *Blob) Plane(n, c int) []float32 {
	size := b.shape[2] * b.shape[3]
	start := b.Offset(n, c, 0, 0)
	return b.Values()[start : start+size]
}

// PlaneDiff returns the gradients for a single (n, c) spatial plane.
func (b *Blob) PlaneDiff(n, c int) []float32 {
	size := b.shape[2] * b.shape[3]
	start := b.Offset(n, c, 0, 0)
	return b.Grads()[start : start+size]
}

func (b *Blob) SameShape(other *Blob) bool {
	return b.shape == other.shape
}

func (b *Blob) ShapeString() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", b.shape[0], b.shape[1], b.shape[2], b.shape[3])
}

// String formats the blob values
func (b *Blob) String(q Queue) string {
	return fmt.Sprintf("%s %s\n%s", b.Name, b.ShapeString(), b.data.String(q))
}
