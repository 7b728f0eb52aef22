package tensor

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// kernelUnroll is the accumulator-splitting factor used by the convolution
// inner kernel. Wider vector units hide more accumulator latency, so the
// factor is raised when the CPU advertises them.
var kernelUnroll = 4

func init() {
	if cpuid.CPU.Supports(cpuid.AVX512F) {
		kernelUnroll = 16
	} else if cpuid.CPU.Supports(cpuid.AVX2) {
		kernelUnroll = 8
	}
}

// forEach executes body(i) for i in [0, length) with a bounded number of
// concurrent goroutines. Used for batch/channel level parallelism inside
// the heavier kernels; callers of the tensor API stay single-threaded.
func forEach(length int, body func(i int)) {
	limit := runtime.NumCPU()
	if limit > length {
		limit = length
	}
	if limit <= 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)
	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(i)
		}(i)
	}
	wg.Wait()
}

// dot computes a dot product with split accumulators sized by kernelUnroll.
func dot(a, b []float32) float32 {
	n := len(a)
	step := kernelUnroll
	if n < step {
		var s float32
		for i := 0; i < n; i++ {
			s += a[i] * b[i]
		}
		return s
	}

	acc := make([]float32, step)
	i := 0
	for ; i+step <= n; i += step {
		for j := 0; j < step; j++ {
			acc[j] += a[i+j] * b[i+j]
		}
	}
	var s float32
	for ; i < n; i++ {
		s += a[i] * b[i]
	}
	for _, v := range acc {
		s += v
	}
	return s
}
