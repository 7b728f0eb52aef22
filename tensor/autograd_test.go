package tensor

import (
	"math"
	"testing"
)

func gradOf(t *testing.T, p *Tensor) []float32 {
	t.Helper()
	if p.Grad() == nil {
		t.Fatal("no gradient accumulated")
	}
	return p.Grad().Data
}

func TestAddSubBackward(t *testing.T) {
	a, _ := NewTensor([]int{2}, []float32{1, 2})
	b, _ := NewTensor([]int{2}, []float32{3, 5})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	loss := SumAutograd(SubAutograd(AddAutograd(a, b), b))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, 1, tol) {
			t.Errorf("a grad[%d] = %v, want 1", i, g)
		}
	}
	// b enters once with +1 and once with -1.
	for i, g := range gradOf(t, b) {
		if !almostEqual(g, 0, tol) {
			t.Errorf("b grad[%d] = %v, want 0", i, g)
		}
	}
}

func TestMulBackward(t *testing.T) {
	a, _ := NewTensor([]int{3}, []float32{1, 2, 3})
	b, _ := NewTensor([]int{3}, []float32{4, 5, 6})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	loss := SumAutograd(MulAutograd(a, b))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, b.Data[i], tol) {
			t.Errorf("a grad[%d] = %v, want %v", i, g, b.Data[i])
		}
	}
	for i, g := range gradOf(t, b) {
		if !almostEqual(g, a.Data[i], tol) {
			t.Errorf("b grad[%d] = %v, want %v", i, g, a.Data[i])
		}
	}
}

func TestDivBackward(t *testing.T) {
	a, _ := NewTensor([]int{2}, []float32{6, 8})
	b, _ := NewTensor([]int{2}, []float32{2, 4})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	loss := SumAutograd(DivAutograd(a, b))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		want := 1 / b.Data[i]
		if !almostEqual(g, want, tol) {
			t.Errorf("a grad[%d] = %v, want %v", i, g, want)
		}
	}
	for i, g := range gradOf(t, b) {
		want := -a.Data[i] / (b.Data[i] * b.Data[i])
		if !almostEqual(g, want, tol) {
			t.Errorf("b grad[%d] = %v, want %v", i, g, want)
		}
	}
}

func TestScalarOpsBackward(t *testing.T) {
	a, _ := NewTensor([]int{2}, []float32{4, 9})
	a.SetRequiresGrad(true)

	// loss = sum(3*sqrt(a) + (a+1)^2)
	left := ScaleAutograd(SqrtAutograd(a), 3)
	right := PowScalarAutograd(AddScalarAutograd(a, 1), 2)
	loss := SumAutograd(AddAutograd(left, right))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		want := float32(3/(2*math.Sqrt(float64(a.Data[i])))) + 2*(a.Data[i]+1)
		if !almostEqual(g, want, 1e-4) {
			t.Errorf("grad[%d] = %v, want %v", i, g, want)
		}
	}
}

func TestMeanBackward(t *testing.T) {
	a, _ := Ones([]int{2, 2})
	a.SetRequiresGrad(true)
	loss := MeanAutograd(a)
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, 0.25, tol) {
			t.Errorf("grad[%d] = %v, want 0.25", i, g)
		}
	}
}

func TestSquaredInputAccumulates(t *testing.T) {
	// loss = sum(a*a) feeds a into both operand slots.
	a, _ := NewTensor([]int{2}, []float32{3, -2})
	a.SetRequiresGrad(true)
	loss := SumAutograd(MulAutograd(a, a))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		want := 2 * a.Data[i]
		if !almostEqual(g, want, tol) {
			t.Errorf("grad[%d] = %v, want %v", i, g, want)
		}
	}
}

func TestSumChannels(t *testing.T) {
	a, err := NewTensor([]int{1, 2, 1, 2}, []float32{1, 2, 10, 20})
	if err != nil {
		t.Fatal(err)
	}
	a.SetRequiresGrad(true)

	out := SumChannelsAutograd(a)
	if !shapesEqual(out.Shape, []int{1, 1, 1, 2}) {
		t.Fatalf("shape = %v, want [1 1 1 2]", out.Shape)
	}
	if out.Data[0] != 11 || out.Data[1] != 22 {
		t.Errorf("values = %v, want [11 22]", out.Data)
	}

	if err := SumAutograd(out).Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, 1, tol) {
			t.Errorf("grad[%d] = %v, want 1", i, g)
		}
	}
}

func TestConcatChannels(t *testing.T) {
	a, _ := Full([]int{1, 1, 2, 2}, 1)
	b, _ := Full([]int{1, 2, 2, 2}, 2)
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out := ConcatChannelsAutograd(a, b)
	if !shapesEqual(out.Shape, []int{1, 3, 2, 2}) {
		t.Fatalf("shape = %v, want [1 3 2 2]", out.Shape)
	}
	if v, _ := out.At(0, 0, 0, 0); v != 1 {
		t.Errorf("channel 0 = %v, want 1", v)
	}
	if v, _ := out.At(0, 2, 1, 1); v != 2 {
		t.Errorf("channel 2 = %v, want 2", v)
	}

	if err := SumAutograd(ScaleAutograd(out, 3)).Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, 3, tol) {
			t.Errorf("a grad[%d] = %v, want 3", i, g)
		}
	}
	for i, g := range gradOf(t, b) {
		if !almostEqual(g, 3, tol) {
			t.Errorf("b grad[%d] = %v, want 3", i, g)
		}
	}
}

func TestReLU(t *testing.T) {
	a, _ := NewTensor([]int{4}, []float32{-2, -0.5, 0.5, 2})
	a.SetRequiresGrad(true)

	out := ReLUAutograd(a)
	want := []float32{0, 0, 0.5, 2}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("ReLU[%d] = %v, want %v", i, out.Data[i], want[i])
		}
	}

	if err := SumAutograd(out).Backward(); err != nil {
		t.Fatal(err)
	}
	wantGrad := []float32{0, 0, 1, 1}
	for i, g := range gradOf(t, a) {
		if g != wantGrad[i] {
			t.Errorf("grad[%d] = %v, want %v", i, g, wantGrad[i])
		}
	}
}

func TestLeakyReLU(t *testing.T) {
	a, _ := NewTensor([]int{2}, []float32{-10, 10})
	a.SetRequiresGrad(true)

	out := LeakyReLUAutograd(a, 0.1)
	if !almostEqual(out.Data[0], -1, tol) || out.Data[1] != 10 {
		t.Errorf("LeakyReLU = %v, want [-1 10]", out.Data)
	}

	if err := SumAutograd(out).Backward(); err != nil {
		t.Fatal(err)
	}
	g := gradOf(t, a)
	if !almostEqual(g[0], 0.1, tol) || g[1] != 1 {
		t.Errorf("grad = %v, want [0.1 1]", g)
	}
}

func TestNonAutogradOps(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, []float32{1, -2, 3, 4})
	b, _ := Full([]int{2, 2}, 2)

	sum, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Data[1] != 0 {
		t.Errorf("Add = %v", sum.Data)
	}
	if _, err := Add(a, FromScalar(1)); err == nil {
		t.Error("shape mismatch accepted")
	}

	clamped := Clamp(a, 0, 3)
	want := []float32{1, 0, 3, 3}
	for i := range want {
		if clamped.Data[i] != want[i] {
			t.Errorf("Clamp[%d] = %v, want %v", i, clamped.Data[i], want[i])
		}
	}

	if got := SumAll(a); got != 6 {
		t.Errorf("SumAll = %v, want 6", got)
	}
	if got := MeanAll(a); got != 1.5 {
		t.Errorf("MeanAll = %v, want 1.5", got)
	}
}
