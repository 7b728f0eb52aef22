package tensor

import "testing"

func planeTensor(t *testing.T, h, w int) *Tensor {
	t.Helper()
	ts, err := Zeros([]int{1, 1, h, w})
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ts.Data[y*w+x] = float32(y*w + x)
		}
	}
	return ts
}

func TestInterpolateIdentity(t *testing.T) {
	a := planeTensor(t, 3, 4)
	out := InterpolateAutograd(a, 3, 4)
	for i := range a.Data {
		if !almostEqual(out.Data[i], a.Data[i], tol) {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[i], a.Data[i])
		}
	}
}

func TestInterpolateConstantUpsample(t *testing.T) {
	a, _ := Full([]int{2, 3, 4, 4}, 7)
	out := InterpolateAutograd(a, 8, 8)
	if !shapesEqual(out.Shape, []int{2, 3, 8, 8}) {
		t.Fatalf("shape = %v, want [2 3 8 8]", out.Shape)
	}
	for i, v := range out.Data {
		if !almostEqual(v, 7, tol) {
			t.Fatalf("out[%d] = %v, want 7", i, v)
		}
	}
}

func TestInterpolateBackwardPreservesMass(t *testing.T) {
	a, _ := Ones([]int{1, 1, 2, 2})
	a.SetRequiresGrad(true)
	loss := SumAutograd(InterpolateAutograd(a, 4, 4))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	var total float32
	for _, g := range gradOf(t, a) {
		total += g
	}
	// Bilinear weights at each output pixel sum to one.
	if !almostEqual(total, 16, 1e-3) {
		t.Errorf("gradient mass = %v, want 16", total)
	}
}

func TestAvgPool2D(t *testing.T) {
	a, err := NewTensor([]int{1, 1, 2, 2}, []float32{1, 2, 3, 6})
	if err != nil {
		t.Fatal(err)
	}
	a.SetRequiresGrad(true)

	out := AvgPool2DAutograd(a, 2, 2, 0)
	if !shapesEqual(out.Shape, []int{1, 1, 1, 1}) {
		t.Fatalf("shape = %v, want [1 1 1 1]", out.Shape)
	}
	if !almostEqual(out.Data[0], 3, tol) {
		t.Errorf("pooled = %v, want 3", out.Data[0])
	}

	if err := SumAutograd(out).Backward(); err != nil {
		t.Fatal(err)
	}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, 0.25, tol) {
			t.Errorf("grad[%d] = %v, want 0.25", i, g)
		}
	}
}

func TestWarpZeroFlowIsIdentity(t *testing.T) {
	im := planeTensor(t, 4, 4)
	flow, _ := Zeros([]int{1, 2, 4, 4})
	out := WarpAutograd(im, flow)
	for i := range im.Data {
		if !almostEqual(out.Data[i], im.Data[i], tol) {
			t.Errorf("out[%d] = %v, want %v", i, out.Data[i], im.Data[i])
		}
	}
}

func TestWarpConstantShift(t *testing.T) {
	im := planeTensor(t, 4, 4)
	flow, _ := Zeros([]int{1, 2, 4, 4})
	// u = 1: each pixel samples its right neighbor.
	for i := 0; i < 16; i++ {
		flow.Data[i] = 1
	}
	out := WarpAutograd(im, flow)
	for y := 0; y < 4; y++ {
		for x := 0; x < 3; x++ {
			got := out.Data[y*4+x]
			want := im.Data[y*4+x+1]
			if !almostEqual(got, want, tol) {
				t.Errorf("out(%d,%d) = %v, want %v", y, x, got, want)
			}
		}
	}
}

func TestWarpBackwardReachesImageAndFlow(t *testing.T) {
	im := planeTensor(t, 4, 4)
	flow, _ := Full([]int{1, 2, 4, 4}, 0.5)
	im.SetRequiresGrad(true)
	flow.SetRequiresGrad(true)

	loss := MeanAutograd(WarpAutograd(im, flow))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	var imMass, flowMass float32
	for _, g := range gradOf(t, im) {
		imMass += g
	}
	for _, g := range gradOf(t, flow) {
		if g < 0 {
			flowMass -= g
		} else {
			flowMass += g
		}
	}
	if imMass <= 0 {
		t.Error("no gradient reached the image")
	}
	if flowMass <= 0 {
		t.Error("no gradient reached the flow")
	}
}

func TestInBoundsMask(t *testing.T) {
	flow, _ := Zeros([]int{1, 2, 3, 3})
	mask := InBoundsMask(flow)
	if !shapesEqual(mask.Shape, []int{1, 1, 3, 3}) {
		t.Fatalf("shape = %v, want [1 1 3 3]", mask.Shape)
	}
	for i, v := range mask.Data {
		if v != 1 {
			t.Errorf("zero flow mask[%d] = %v, want 1", i, v)
		}
	}

	far, _ := Full([]int{1, 2, 3, 3}, 100)
	mask = InBoundsMask(far)
	for i, v := range mask.Data {
		if v != 0 {
			t.Errorf("large flow mask[%d] = %v, want 0", i, v)
		}
	}
}

func TestDiffOps(t *testing.T) {
	a, err := NewTensor([]int{1, 1, 2, 3}, []float32{
		1, 3, 6,
		2, 2, 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	a.SetRequiresGrad(true)

	dx := DiffXAutograd(a)
	wantX := []float32{2, 3, 0, 0, 0, 0}
	for i := range wantX {
		if dx.Data[i] != wantX[i] {
			t.Errorf("dx[%d] = %v, want %v", i, dx.Data[i], wantX[i])
		}
	}

	dy := DiffYAutograd(a)
	wantY := []float32{1, -1, -4, 0, 0, 0}
	for i := range wantY {
		if dy.Data[i] != wantY[i] {
			t.Errorf("dy[%d] = %v, want %v", i, dy.Data[i], wantY[i])
		}
	}

	if err := SumAutograd(dx).Backward(); err != nil {
		t.Fatal(err)
	}
	// Telescoping sum: only the row endpoints keep gradient.
	wantGrad := []float32{-1, 0, 1, -1, 0, 1}
	for i, g := range gradOf(t, a) {
		if !almostEqual(g, wantGrad[i], tol) {
			t.Errorf("grad[%d] = %v, want %v", i, g, wantGrad[i])
		}
	}
}

func TestCensusTransform(t *testing.T) {
	flat, _ := Full([]int{1, 3, 4, 4}, 0.5)
	out := CensusTransformAutograd(flat, 1)
	if !shapesEqual(out.Shape, []int{1, 9, 4, 4}) {
		t.Fatalf("shape = %v, want [1 9 4 4]", out.Shape)
	}
	// The center offset compares a pixel against itself.
	center := out.Data[4*16 : 5*16]
	for i, v := range center {
		if v != 0 {
			t.Errorf("center channel[%d] = %v, want 0", i, v)
		}
	}

	edge := planeTensor(t, 4, 4)
	edge.SetRequiresGrad(true)
	loss := MeanAutograd(CensusTransformAutograd(edge, 1))
	if err := loss.Backward(); err != nil {
		t.Fatal(err)
	}
	var mass float32
	for _, g := range gradOf(t, edge) {
		if g < 0 {
			mass -= g
		} else {
			mass += g
		}
	}
	if mass <= 0 {
		t.Error("no gradient reached the image")
	}
}
