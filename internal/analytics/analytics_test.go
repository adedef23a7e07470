package analytics

import (
	"errors"
	"math"
	"testing"

	"flowscope/internal/models"
)

func sample(t, v float64) models.Sample {
	return models.Sample{T: t, Value: v}
}

func TestWindow_Append(t *testing.T) {
	w := NewWindow(5)

	values := []float64{10, 20, 30, 40, 50}
	for i, v := range values {
		w.Append(sample(float64(i), v))
	}

	if w.Len() != 5 {
		t.Errorf("Expected len 5, got %d", w.Len())
	}

	expectedMean := 30.0
	if math.Abs(w.Mean()-expectedMean) > 0.001 {
		t.Errorf("Expected mean %.2f, got %.2f", expectedMean, w.Mean())
	}
}

func TestWindow_RollingBehavior(t *testing.T) {
	w := NewWindow(3)

	w.Append(sample(0, 10))
	w.Append(sample(1, 20))
	w.Append(sample(2, 30))

	if math.Abs(w.Mean()-20.0) > 0.001 {
		t.Errorf("Expected mean 20, got %.2f", w.Mean())
	}

	// Should push out 10
	w.Append(sample(3, 40))

	if math.Abs(w.Mean()-30.0) > 0.001 {
		t.Errorf("Expected mean 30, got %.2f", w.Mean())
	}
	if w.Len() != 3 {
		t.Errorf("Expected len 3, got %d", w.Len())
	}
}

func TestWindow_CapacityInvariant(t *testing.T) {
	const capacity = 7
	const k = 23
	w := NewWindow(capacity)
	for i := 1; i <= k; i++ {
		w.Append(sample(float64(i), float64(i)))
	}

	if got := len(w.Latest(k)); got != capacity {
		t.Fatalf("Expected len(Latest(%d)) == %d, got %d", k, capacity, got)
	}

	latest := w.Latest(capacity)
	for i, s := range latest {
		want := float64(k - capacity + 1 + i)
		if s.Value != want || s.T != want {
			t.Errorf("Latest[%d] = %+v, want value %.0f", i, s, want)
		}
	}
}

func TestWindow_LatestPartial(t *testing.T) {
	w := NewWindow(10)
	if got := w.Latest(5); len(got) != 0 {
		t.Errorf("Expected empty window, got %v", got)
	}

	w.Append(sample(0, 1))
	w.Append(sample(1, 2))
	w.Append(sample(2, 3))

	got := w.Latest(2)
	if len(got) != 2 || got[0].Value != 2 || got[1].Value != 3 {
		t.Errorf("Expected [2 3], got %v", got)
	}

	got = w.Latest(100)
	if len(got) != 3 || got[0].Value != 1 {
		t.Errorf("Expected all 3 samples in order, got %v", got)
	}
}

func TestWindow_LatestReturnsCopy(t *testing.T) {
	w := NewWindow(2)
	w.Append(sample(0, 1))
	got := w.Latest(1)
	got[0].Value = 99

	if w.Latest(1)[0].Value != 1 {
		t.Error("Latest must not expose the backing buffer")
	}
}

func TestWindow_EndToEnd(t *testing.T) {
	w := NewWindow(3)
	w.Append(sample(0, 1))
	w.Append(sample(1, 2))
	w.Append(sample(2, 3))
	w.Append(sample(3, 4))

	want := []models.Sample{sample(1, 2), sample(2, 3), sample(3, 4)}
	got := w.Latest(3)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Latest[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWindow_StdDev(t *testing.T) {
	w := NewWindow(5)
	for i := 0; i < 5; i++ {
		w.Append(sample(float64(i), 50))
	}
	if w.StdDev() != 0 {
		t.Errorf("Expected stddev 0 for identical values, got %.2f", w.StdDev())
	}

	w2 := NewWindow(5)
	for i, v := range []float64{2, 4, 4, 4, 5} {
		w2.Append(sample(float64(i), v))
	}
	// sample stddev of [2,4,4,4,5] ≈ 1.095
	if math.Abs(w2.StdDev()-1.0954) > 0.001 {
		t.Errorf("Expected stddev ≈ 1.095, got %.4f", w2.StdDev())
	}
}

func TestWindow_StatsRecoverAfterOverflow(t *testing.T) {
	w := NewWindow(3)
	for i, v := range []float64{1e200, 1, 2, 3} {
		w.Append(sample(float64(i), v))
	}

	if math.IsNaN(w.StdDev()) || math.IsNaN(w.Mean()) {
		t.Fatalf("Expected finite stats after eviction, got mean %v stddev %v", w.Mean(), w.StdDev())
	}
	if math.Abs(w.Mean()-2) > 1e-9 {
		t.Errorf("Expected mean 2, got %v", w.Mean())
	}
	if math.Abs(w.StdDev()-1) > 1e-9 {
		t.Errorf("Expected stddev 1, got %v", w.StdDev())
	}
}

func TestSmoother_FirstCallIdentity(t *testing.T) {
	for _, v := range []float64{0, -3.5, 7.25, 1e9} {
		s, err := NewSmoother(0.3)
		if err != nil {
			t.Fatal(err)
		}
		if got := s.Smooth(v); got != v {
			t.Errorf("First Smooth(%v) = %v, want %v", v, got, v)
		}
	}
}

func TestSmoother_Step(t *testing.T) {
	s, _ := NewSmoother(0.5)
	s.Smooth(10)
	if got := s.Smooth(20); math.Abs(got-15) > 1e-12 {
		t.Errorf("Expected 15, got %v", got)
	}
	if got := s.Smooth(20); math.Abs(got-17.5) > 1e-12 {
		t.Errorf("Expected 17.5, got %v", got)
	}
}

func TestSmoother_Convergence(t *testing.T) {
	s, _ := NewSmoother(0.1)
	s.Smooth(0)

	const v = 8.0
	prevErr := math.Inf(1)
	for i := 0; i < 200; i++ {
		e := math.Abs(s.Smooth(v) - v)
		if e > prevErr {
			t.Fatalf("step %d: error grew from %v to %v", i, prevErr, e)
		}
		prevErr = e
	}
	if prevErr > 1e-6 {
		t.Errorf("Expected convergence to %v, residual error %v", v, prevErr)
	}
}

func TestSmoother_AlphaOneTracksRaw(t *testing.T) {
	s, _ := NewSmoother(1)
	s.Smooth(1)
	if got := s.Smooth(42); got != 42 {
		t.Errorf("alpha=1 should return raw value, got %v", got)
	}
}

func TestSmoother_Floor(t *testing.T) {
	s, _ := NewSmoother(0.5)
	s.WithFloor(0)

	if got := s.Smooth(-4); got != 0 {
		t.Errorf("Expected clamp to 0, got %v", got)
	}
	// Internal state keeps the unclamped value
	if last, ok := s.Last(); !ok || last != -4 {
		t.Errorf("Expected unclamped state -4, got %v (ok=%v)", last, ok)
	}
	if got := s.Smooth(4); got != 0 {
		t.Errorf("Expected 0 after blending -4 and 4, got %v", got)
	}
}

func TestSmoother_Reset(t *testing.T) {
	s, _ := NewSmoother(0.2)
	s.Smooth(5)
	s.Reset()
	if _, ok := s.Last(); ok {
		t.Error("Expected no state after Reset")
	}
	if got := s.Smooth(9); got != 9 {
		t.Errorf("Expected re-seed with 9, got %v", got)
	}
}

func TestNewSmoother_InvalidAlpha(t *testing.T) {
	for _, a := range []float64{0, -0.1, 1.01, math.NaN()} {
		if _, err := NewSmoother(a); !errors.Is(err, ErrInvalidAlpha) {
			t.Errorf("alpha=%v: expected ErrInvalidAlpha, got %v", a, err)
		}
	}
}

func TestWindowEdges(t *testing.T) {
	cases := []struct {
		t, windowSec, interval float64
		left, right            float64
	}{
		{0, 10, 0.1, 0, 0.1},
		{15, 10, 0.1, 5, 15.1},
		{3, 10, 0.1, 0, 3.1},
		{10, 5, 0.001, 5, 10.001},
	}
	for _, c := range cases {
		left, right := WindowEdges(c.t, c.windowSec, c.interval)
		if math.Abs(left-c.left) > 1e-9 || math.Abs(right-c.right) > 1e-9 {
			t.Errorf("WindowEdges(%v, %v, %v) = (%v, %v), want (%v, %v)",
				c.t, c.windowSec, c.interval, left, right, c.left, c.right)
		}
	}
}

func BenchmarkWindowAppend(b *testing.B) {
	w := NewWindow(5000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Append(models.Sample{T: float64(i), Value: float64(i % 100)})
	}
}

func BenchmarkSmooth(b *testing.B) {
	s, _ := NewSmoother(0.1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Smooth(float64(i % 100))
	}
}
