package num

import (
	"fmt"
	"strings"
)

// Parameters for array printing
var (
	PrintThreshold = 12
	PrintEdgeitems = 4
)

// Array interface is a general n dimensional tensor similar to a numpy ndarray
// data is stored internally in row major order, last dimension varies fastest
type Array interface {
	// Dims returns the shape of the array in outer to inner order
	Dims() []int
	// Size is total number of elements
	Size() int
	// Dtype returns the data type of the elements in the array
	Dtype() DataType
	// Reshape returns a new array of the same size with a view on the same data but with a different shape
	Reshape(dims ...int) Array
	// Reference to the raw data, either a []float32 or []int32 slice
	Data() interface{}
	// Typed accessors, panic if the array is of the wrong type
	Float32s() []float32
	Int32s() []int32
	// Formatted output
	String(q Queue) string
	// Release any allocated memory
	Release()
}

// array resident in main memory
type arrayCPU struct {
	arrayBase
	f32 []float32
	i32 []int32
}

func (d cpuDevice) NewArray(dtype DataType, dims ...int) Array {
	size := Prod(dims)
	switch dtype {
	case Float32:
		return Wrap(make([]float32, size), dims...)
	case Int32:
		return Wrap(make([]int32, size), dims...)
	default:
		panic(fmt.Sprintf("NewArray: invalid data type %d", dtype))
	}
}

func (d cpuDevice) NewArrayLike(a Array) Array {
	return d.NewArray(a.Dtype(), a.Dims()...)
}

// Wrap returns an array which is a view on the given []float32 or []int32 slice.
func Wrap(data interface{}, dims ...int) Array {
	dims = append([]int{}, dims...)
	a := &arrayCPU{arrayBase: arrayBase{size: Prod(dims), dims: dims}}
	switch d := data.(type) {
	case []float32:
		a.dtype, a.f32 = Float32, d
		if len(d) < a.size {
			panic(fmt.Sprintf("Wrap: slice length %d too short for shape %v", len(d), dims))
		}
		a.f32 = d[:a.size]
	case []int32:
		a.dtype, a.i32 = Int32, d
		if len(d) < a.size {
			panic(fmt.Sprintf("Wrap: slice length %d too short for shape %v", len(d), dims))
		}
		a.i32 = d[:a.size]
	default:
		panic(fmt.Sprintf("Wrap: invalid data type %T", data))
	}
	return a
}

func (a *arrayCPU) Data() interface{} {
	if a.dtype == Int32 {
		return a.i32
	}
	return a.f32
}

func (a *arrayCPU) Float32s() []float32 {
	if a.dtype != Float32 {
		panic("Float32s: array is not Float32")
	}
	return a.f32
}

func (a *arrayCPU) Int32s() []int32 {
	if a.dtype != Int32 {
		panic("Int32s: array is not Int32")
	}
	return a.i32
}

func (a *arrayCPU) Release() {
	a.f32, a.i32 = nil, nil
}

func (a *arrayCPU) Reshape(dims ...int) Array {
	return &arrayCPU{arrayBase: a.reshape(dims), f32: a.f32, i32: a.i32}
}

func (a *arrayCPU) String(q Queue) string { return toString(a, q) }

// common array functions
type arrayBase struct {
	size  int
	dims  []int
	dtype DataType
}

func (a arrayBase) Size() int { return a.size }

func (a arrayBase) Dims() []int { return a.dims }

func (a arrayBase) Dtype() DataType { return a.dtype }

func (a arrayBase) reshape(dims []int) arrayBase {
	dims = append([]int{}, dims...)
	n := a.size
	for i := range dims {
		if dims[i] == -1 {
			other := 1
			for j, dim := range dims {
				if i != j {
					if dim == -1 {
						panic("Reshape: can only have single -1 value")
					}
					other *= dim
				}
			}
			dims[i] = n / other
		}
	}
	if Prod(dims) != n {
		panic(fmt.Sprintf("Reshape: must be to array of same size: %v -> %v", a.dims, dims))
	}
	return arrayBase{size: n, dims: dims, dtype: a.dtype}
}

// toString formats the array in nested brackets, eliding the middle of long dimensions.
func toString(a Array, q Queue) string {
	q.Finish()
	p := &printer{dims: a.Dims()}
	switch d := a.Data().(type) {
	case []int32:
		p.elem = func(i int) string { return fmt.Sprintf("%5d", d[i]) }
	case []float32:
		p.elem = func(i int) string { return fmt.Sprintf("%9.4g", d[i]) }
	}
	if len(p.dims) == 0 {
		return p.elem(0) + "\n"
	}
	p.write(0, 0)
	p.WriteByte('\n')
	return p.String()
}

type printer struct {
	strings.Builder
	dims []int
	elem func(i int) string
}

func (p *printer) write(depth, at int) {
	n := p.dims[depth]
	inner := depth == len(p.dims)-1
	stride := Prod(p.dims[depth+1:])
	p.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			if inner {
				p.WriteByte(' ')
			} else {
				p.WriteString("\n" + strings.Repeat(" ", depth+1))
			}
		}
		if n > PrintThreshold+1 && i == PrintEdgeitems {
			p.WriteString("...")
			i = n - PrintEdgeitems - 1
			continue
		}
		if inner {
			p.WriteString(p.elem(at + i))
		} else {
			p.write(depth+1, at+i*stride)
		}
	}
	p.WriteByte(']')
}

// Product of elements of an integer array. Zero dimension array (scalar) has size 1.
func Prod(arr []int) int {
	prod := 1
	for _, v := range arr {
		prod *= v
	}
	return prod
}

// Check if two arrays are the same shape
func SameShape(xd, yd []int) bool {
	if len(xd) != len(yd) {
		return false
	}
	for i := range xd {
		if xd[i] != yd[i] {
			return false
		}
	}
	return true
}
