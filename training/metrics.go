package training

import "fmt"

// AverageMeter tracks a running average of a scalar metric over an epoch.
type AverageMeter struct {
	Val   float32
	Avg   float32
	Sum   float32
	Count int
}

// NewAverageMeter returns a zeroed meter.
func NewAverageMeter() *AverageMeter {
	return &AverageMeter{}
}

// Reset clears the meter for a new epoch.
func (m *AverageMeter) Reset() {
	m.Val = 0
	m.Avg = 0
	m.Sum = 0
	m.Count = 0
}

// Update records a value observed over n samples.
func (m *AverageMeter) Update(val float32, n int) {
	if n <= 0 {
		n = 1
	}
	m.Val = val
	m.Sum += val * float32(n)
	m.Count += n
	m.Avg = m.Sum / float32(m.Count)
}

// String renders "current (average)" for progress lines.
func (m *AverageMeter) String() string {
	return fmt.Sprintf("%.3f (%.3f)", m.Val, m.Avg)
}
