package num

import (
	"fmt"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"runtime"
	"sort"
	"time"
)

// Max number of functions buffered before the queue is flushed
const QueueSize = 64

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dtype DataType, dims ...int) Array
	NewArrayLike(a Array) Array
}

// Initialise new CPU device, uses the pure Go gonum BLAS implementation.
func NewCPUDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Number of worker goroutines used by parallel kernels
	Threads() int
	// Asyncronous function call
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Enable profiling
	Profiling(on bool)
	PrintProfile()
}

type cpuDevice struct{}

type cpuQueue struct {
	cpuDevice
	buffer  [QueueSize]Function
	queued  int
	threads int
	*profile
}

// NewQueue creates a queue whose parallel kernels use up to threads workers.
// If threads < 1 then the number of CPUs is used.
func (d cpuDevice) NewQueue(threads int) Queue {
	if threads < 1 {
		threads = runtime.NumCPU()
	}
	return &cpuQueue{
		cpuDevice: d,
		threads:   threads,
		profile:   newProfile(),
	}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) Threads() int { return q.threads }

// pending calls are discarded if one of them panics
func (q *cpuQueue) exec() {
	n := q.queued
	q.queued = 0
	for i := 0; i < n; i++ {
		fn := q.buffer[i]
		q.buffer[i] = Function{}
		if q.profile.enabled {
			start := time.Now()
			fn.exec(q.threads)
			q.profile.add(fn.desc, time.Since(start))
		} else {
			fn.exec(q.threads)
		}
	}
}

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, arg := range args {
		if arg.exec == nil {
			panic("Call: invalid function " + arg.desc)
		}
		if q.queued >= QueueSize {
			q.exec()
		}
		q.buffer[q.queued] = arg
		q.queued++
	}
	return q
}

func (q *cpuQueue) Finish() {
	if q.queued > 0 {
		q.exec()
	}
}

func (q *cpuQueue) Shutdown() {
	q.Finish()
	if q.profile.enabled {
		q.PrintProfile()
	}
}

// Function which may be called via the queue
type Function struct {
	desc string
	exec func(threads int)
}

func (f Function) String() string { return f.desc }

// Kernel wraps an arbitrary function so that it is executed in order with other queued calls.
func Kernel(desc string, fn func()) Function {
	return Function{desc: desc, exec: func(threads int) { fn() }}
}

// Parallel returns a function which calls fn(i) for i in [0, n) using up to threads
// worker goroutines. Each call must be independent of the others. A panic in any
// worker is re-raised on the calling goroutine once all workers have completed.
func Parallel(desc string, n int, fn func(i int)) Function {
	return Function{desc: desc, exec: func(threads int) {
		if threads <= 1 || n <= 1 {
			for i := 0; i < n; i++ {
				fn(i)
			}
			return
		}
		var g errgroup.Group
		g.SetLimit(threads)
		for i := 0; i < n; i++ {
			i := i
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = errors.Errorf("%v", r)
					}
				}()
				fn(i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			panic(fmt.Sprintf("%s: %s", desc, err))
		}
	}}
}

// profiling functions
type profile struct {
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.enabled = on
}

func (p *profile) add(name string, elapsed time.Duration) {
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += elapsed.Seconds() * 1000
	p.prof[name] = r
}

func (p *profile) PrintProfile() {
	fmt.Println("== Profile ==")
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	totalCalls := int64(0)
	totalMsec := 0.0
	for _, r := range list {
		fmt.Printf("%-25s %8d calls %10.1f msec\n", r.name, r.calls, r.msec)
		totalCalls += r.calls
		totalMsec += r.msec
	}
	fmt.Printf("%-25s %8d calls %10.1f msec\n", "TOTAL", totalCalls, totalMsec)
}
