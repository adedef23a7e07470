// Package analytics реализует скользящее окно отсчетов, EMA-сглаживание
// и расчет видимых границ оси X
package analytics

import (
	"math"

	"github.com/pkg/errors"

	"flowscope/internal/models"
)

// ErrInvalidAlpha возвращается, если alpha вне (0, 1]
var ErrInvalidAlpha = errors.New("alpha must be in (0, 1]")

// Window реализует кольцевой буфер отсчетов фиксированной емкости
type Window struct {
	samples []models.Sample
	size    int
	index   int
	count   int
	sum     float64
	sumSq   float64
}

// NewWindow создает новое окно заданной емкости
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		samples: make([]models.Sample, size),
		size:    size,
	}
}

// Append добавляет отсчет, вытесняя самый старый при переполнении
func (w *Window) Append(s models.Sample) {
	if w.count >= w.size {
		// Удаляем старое значение из статистики
		old := w.samples[w.index].Value
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.count++
	}

	w.samples[w.index] = s
	w.sum += s.Value
	w.sumSq += s.Value * s.Value

	w.index = (w.index + 1) % w.size

	// После переполнения Inf-Inf дает NaN навсегда, пересчитываем по буферу
	if math.IsNaN(w.sum) || math.IsInf(w.sum, 0) || math.IsNaN(w.sumSq) || math.IsInf(w.sumSq, 0) {
		w.recompute()
	}
}

func (w *Window) recompute() {
	w.sum, w.sumSq = 0, 0
	for _, s := range w.Latest(w.count) {
		w.sum += s.Value
		w.sumSq += s.Value * s.Value
	}
}

// Latest возвращает min(n, Len()) последних отсчетов в порядке времени
func (w *Window) Latest(n int) []models.Sample {
	if n > w.count {
		n = w.count
	}
	if n <= 0 {
		return []models.Sample{}
	}

	out := make([]models.Sample, n)
	start := w.index - n
	if start < 0 {
		start += w.size
	}
	for i := 0; i < n; i++ {
		out[i] = w.samples[(start+i)%w.size]
	}
	return out
}

// Len возвращает количество отсчетов в окне
func (w *Window) Len() int {
	return w.count
}

// Cap возвращает емкость окна
func (w *Window) Cap() int {
	return w.size
}

// Mean возвращает среднее значение Value по окну
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// StdDev возвращает выборочное стандартное отклонение Value
func (w *Window) StdDev() float64 {
	if w.count < 2 {
		return 0
	}
	n := float64(w.count)
	variance := (w.sumSq - (w.sum*w.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Smoother реализует экспоненциальное скользящее среднее
type Smoother struct {
	alpha   float64
	last    float64
	primed  bool
	floor   float64
	clamped bool
}

// NewSmoother создает EMA-фильтр с коэффициентом alpha
func NewSmoother(alpha float64) (*Smoother, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, errors.Wrapf(ErrInvalidAlpha, "got %v", alpha)
	}
	return &Smoother{alpha: alpha}, nil
}

// WithFloor ограничивает результат снизу (состояние фильтра не ограничивается)
func (s *Smoother) WithFloor(floor float64) *Smoother {
	s.floor = floor
	s.clamped = true
	return s
}

// Smooth выполняет один шаг фильтра и возвращает сглаженное значение
func (s *Smoother) Smooth(raw float64) float64 {
	if !s.primed {
		s.last = raw
		s.primed = true
	} else {
		s.last = s.alpha*raw + (1-s.alpha)*s.last
	}

	if s.clamped && s.last < s.floor {
		return s.floor
	}
	return s.last
}

// Last возвращает последнее состояние, ok=false до первого отсчета
func (s *Smoother) Last() (float64, bool) {
	return s.last, s.primed
}

// Reset сбрасывает состояние фильтра
func (s *Smoother) Reset() {
	s.last = 0
	s.primed = false
}

// WindowEdges вычисляет видимые границы оси X
func WindowEdges(t, windowSec, interval float64) (left, right float64) {
	left = math.Max(0, t-windowSec)
	right = t + interval
	return left, right
}
