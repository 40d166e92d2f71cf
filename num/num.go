// Package num contains numeric Array processing routines such as optimised matix multiplication.
package num

import (
	"fmt"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"math"
)

// Data type of an element of the array
type DataType int

const (
	Int32 DataType = iota
	Float32
)

func (t DataType) String() string {
	switch t {
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Read data from array into a slice.
func Read(a Array, data interface{}) Function {
	return Kernel("read", func() { copySlice("Read", data, a.Data(), a.Size()) })
}

// Write data from a slice into the given array.
func Write(a Array, data interface{}) Function {
	return Kernel("write", func() { copySlice("Write", a.Data(), data, a.Size()) })
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return Kernel("fill", func() {
		switch d := a.Data().(type) {
		case []float32:
			for i := range d {
				d[i] = scalar
			}
		case []int32:
			for i := range d {
				d[i] = int32(scalar)
			}
		}
	})
}

// Copy from src to dst, arrays must have the same number of elements
func Copy(dst, src Array) Function {
	if src.Dtype() != dst.Dtype() {
		panic("Copy: arguments must be same type")
	}
	if src.Size() != dst.Size() {
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", src.Dims(), dst.Dims()))
	}
	return Kernel("copy", func() { copySlice("Copy", dst.Data(), src.Data(), src.Size()) })
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x Array) Function {
	xv := vector("Scale", x)
	return Kernel("scale", func() { blas32.Scal(alpha, xv) })
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	xv, yv := vector("Axpy", x), vector("Axpy", y)
	if xv.N != yv.N {
		panic("Axpy: arrays must be same size")
	}
	return Kernel("axpy", func() { blas32.Axpy(alpha, xv, yv) })
}

// Array scaling and addition: y <- alpha*x + beta*y
func Axpby(alpha float32, x Array, beta float32, y Array) Function {
	xv, yv := vector("Axpby", x), vector("Axpby", y)
	if xv.N != yv.N {
		panic("Axpby: arrays must be same size")
	}
	return Kernel("axpby", func() {
		blas32.Scal(beta, yv)
		blas32.Axpy(alpha, xv, yv)
	})
}

// Calculate the scalar sum of the values in the array. Multiplies each result by scale.
func Sum(a, total Array, scale float32) Function {
	if total.Size() != 1 || total.Dtype() != Float32 {
		panic("Sum: result type should be float32 scalar")
	}
	return Kernel("sum", func() {
		var sum float64
		switch d := a.Data().(type) {
		case []float32:
			for _, v := range d {
				sum += float64(v)
			}
		case []int32:
			for _, v := range d {
				sum += float64(v)
			}
		}
		total.Float32s()[0] = float32(sum) * scale
	})
}

// Dot product of two float32 vectors
func Dot(x, y []float32) float32 {
	if len(x) != len(y) {
		panic("Dot: vectors must be same length")
	}
	return blas32.Dot(blas32.Vector{N: len(x), Data: x, Inc: 1}, blas32.Vector{N: len(y), Data: y, Inc: 1})
}

// Matrix vector multiplication: y <- alpha*dot(mA,x) + beta*y
func Gemv(alpha, beta float32, mA, x, y Array, aTrans TransType) Function {
	if mA.Dtype() != Float32 || x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Gemv: dtype must by Float32")
	}
	adim, xdim, ydim := mA.Dims(), x.Dims(), y.Dims()
	if len(adim) != 2 || len(xdim) != 1 || len(ydim) != 1 {
		panic("Gemv: must have matrix and vector inputs")
	}
	m, n := adim[0], adim[1]
	if aTrans == Trans {
		if xdim[0] != m || ydim[0] != n {
			panic(fmt.Sprintf("Gemv: incorrect vector size %v x %v -> %v", adim, xdim, ydim))
		}
	} else {
		if xdim[0] != n || ydim[0] != m {
			panic(fmt.Sprintf("Gemv: incorrect vector size %v x %v -> %v", adim, xdim, ydim))
		}
	}
	a := general(mA)
	xv, yv := vector("Gemv", x), vector("Gemv", y)
	return Kernel("gemv", func() { blas32.Gemv(aTrans.blas(), alpha, a, xv, beta, yv) })
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	if mA.Dtype() != Float32 || mB.Dtype() != Float32 || mC.Dtype() != Float32 {
		panic("Gemm: dtype must by Float32")
	}
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	a, b, c := general(mA), general(mB), general(mC)
	return Kernel("gemm", func() { blas32.Gemm(aTrans.blas(), bTrans.blas(), alpha, a, b, beta, c) })
}

// Elementwise addition: z <- x + y
func Add(x, y, z Array) Function {
	return binaryFunc("add", x, y, z, func(a, b float32) float32 { return a + b })
}

// Elementwise subtraction: z <- x - y
func Sub(x, y, z Array) Function {
	return binaryFunc("sub", x, y, z, func(a, b float32) float32 { return a - b })
}

// Elementwise multiplication: z <- x * y
func Mul(x, y, z Array) Function {
	return binaryFunc("mul", x, y, z, func(a, b float32) float32 { return a * b })
}

// Elementwise division: z <- x / y
func Div(x, y, z Array) Function {
	return binaryFunc("div", x, y, z, func(a, b float32) float32 { return a / b })
}

// Elementwise power: y <- x ** p
func Powx(x Array, p float32, y Array) Function {
	var fn func(a float32) float32
	switch p {
	case 2:
		fn = func(a float32) float32 { return a * a }
	case 0.5:
		fn = func(a float32) float32 { return float32(math.Sqrt(float64(a))) }
	default:
		fn = func(a float32) float32 { return float32(math.Pow(float64(a), float64(p))) }
	}
	return unaryFunc("powx", x, y, fn)
}

// Add scalar to each element: x <- x + alpha
func AddScalar(alpha float32, x Array) Function {
	return unaryFunc("add_scalar", x, x, func(a float32) float32 { return a + alpha })
}

func unaryFunc(desc string, x, y Array, fn func(a float32) float32) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("UnaryFunc: dtype must by Float32")
	}
	if x.Size() != y.Size() {
		panic("UnaryFunc: arrays must be same size")
	}
	return Kernel(desc, func() {
		xd, yd := x.Float32s(), y.Float32s()
		for i, v := range xd {
			yd[i] = fn(v)
		}
	})
}

func binaryFunc(desc string, x, y, z Array, fn func(a, b float32) float32) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 || z.Dtype() != Float32 {
		panic("BinaryFunc: dtype must by Float32")
	}
	if x.Size() != z.Size() || y.Size() != z.Size() {
		panic("BinaryFunc: arrays must be same size")
	}
	return Kernel(desc, func() {
		xd, yd, zd := x.Float32s(), y.Float32s(), z.Float32s()
		for i := range zd {
			zd[i] = fn(xd[i], yd[i])
		}
	})
}

func vector(desc string, a Array) blas32.Vector {
	if a.Dtype() != Float32 {
		panic(desc + ": dtype must by Float32")
	}
	return blas32.Vector{N: a.Size(), Data: a.Float32s(), Inc: 1}
}

func general(a Array) blas32.General {
	dims := a.Dims()
	return blas32.General{Rows: dims[0], Cols: dims[1], Data: a.Float32s(), Stride: dims[1]}
}

func copySlice(desc string, dst, src interface{}, n int) {
	switch d := dst.(type) {
	case []float32:
		s, ok := src.([]float32)
		if !ok {
			panic(fmt.Sprintf("%s: type mismatch %T to %T", desc, src, dst))
		}
		if len(s) < n || len(d) < n {
			panic(fmt.Sprintf("%s: slice too short", desc))
		}
		copy(d[:n], s[:n])
	case []int32:
		s, ok := src.([]int32)
		if !ok {
			panic(fmt.Sprintf("%s: type mismatch %T to %T", desc, src, dst))
		}
		if len(s) < n || len(d) < n {
			panic(fmt.Sprintf("%s: slice too short", desc))
		}
		copy(d[:n], s[:n])
	default:
		panic(fmt.Sprintf("%s: invalid slice type %T", desc, dst))
	}
}
