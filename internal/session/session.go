// Package session владеет всем изменяемым состоянием одного запуска:
// скользящим окном, EMA-фильтром, флагом паузы и источником
package session

import (
	"math"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"flowscope/internal/analytics"
	"flowscope/internal/config"
	"flowscope/internal/ingest"
	"flowscope/internal/metrics"
	"flowscope/internal/models"
	"flowscope/internal/source"
)

// Состояния сессии
const (
	StateRunning = "RUNNING"
	StatePaused  = "PAUSED"
)

// Options дополнительные зависимости сессии
type Options struct {
	Recorder Recorder
	Logger   logrus.FieldLogger
	// Start момент t = 0; по умолчанию время создания сессии
	Start time.Time
}

// Session состояние одного запуска
type Session struct {
	id      string
	profile config.Profile
	mode    ingest.Mode

	src      source.SampleSource
	smoother *analytics.Smoother
	start    time.Time
	lastT    float64
	seq      uint64

	// попыток переподключения с последнего принятого отсчета
	reconnects int

	mu     sync.RWMutex
	window *analytics.Window

	paused    *atomic.Bool
	accepted  *atomic.Int64
	malformed *atomic.Int64
	empty     *atomic.Int64
	rate      *ratecounter.RateCounter

	recorder *asyncRecorder
	log      logrus.FieldLogger
}

// New создает сессию в состоянии RUNNING
func New(id string, p config.Profile, src source.SampleSource, opts Options) (*Session, error) {
	mode, err := ingest.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	if p.Capacity <= 0 {
		return nil, errors.Errorf("capacity must be > 0 (got %d)", p.Capacity)
	}

	var smoother *analytics.Smoother
	if p.Alpha > 0 {
		smoother, err = analytics.NewSmoother(p.Alpha)
		if err != nil {
			return nil, err
		}
		if p.ClampMin != nil {
			smoother.WithFloor(*p.ClampMin)
		}
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}

	s := &Session{
		id:        id,
		profile:   p,
		mode:      mode,
		src:       src,
		smoother:  smoother,
		start:     start,
		window:    analytics.NewWindow(p.Capacity),
		paused:    atomic.NewBool(false),
		accepted:  atomic.NewInt64(0),
		malformed: atomic.NewInt64(0),
		empty:     atomic.NewInt64(0),
		rate:      ratecounter.NewRateCounter(time.Second),
		log:       log.WithField("session", id),
	}
	if opts.Recorder != nil {
		s.recorder = newAsyncRecorder(opts.Recorder, s.log)
	}
	return s, nil
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// Tick выполняет один опрос: при паузе или отсутствии данных ok=false и
// окно не меняется. Ошибка означает отказ источника
func (s *Session) Tick(now time.Time) (models.RenderFrame, bool, error) {
	if s.paused.Load() {
		return models.RenderFrame{}, false, nil
	}

	res, err := ingest.DrainLatest(s.src, s.mode)
	s.malformed.Add(int64(res.Malformed))
	metrics.ObserveDrain(res.Lines, res.Malformed, res.OK, err)
	if err != nil {
		return models.RenderFrame{}, false, errors.Wrap(err, "poll source")
	}
	if !res.OK {
		s.empty.Inc()
		return models.RenderFrame{}, false, nil
	}

	sample := s.toSample(res.Record, now)

	s.mu.Lock()
	s.window.Append(sample)
	latest := s.window.Latest(s.window.Cap())
	s.mu.Unlock()

	s.seq++
	s.reconnects = 0
	s.accepted.Inc()
	s.rate.Incr(1)
	metrics.ObserveSample(sample.Value, sample.Secondary, sample.HasSecondary)
	if s.recorder != nil {
		s.recorder.record(sample)
	}

	return s.frame(latest, sample.T), true, nil
}

func (s *Session) toSample(rec models.Record, now time.Time) models.Sample {
	value := channelValue(rec, s.profile.Primary)
	if s.smoother != nil {
		value = s.smoother.Smooth(value)
	} else if s.profile.ClampMin != nil {
		value = math.Max(value, *s.profile.ClampMin)
	}

	t := now.Sub(s.start).Seconds()
	if t < s.lastT {
		t = s.lastT
	}
	s.lastT = t

	sample := models.Sample{T: t, Value: value}
	if s.profile.Secondary != nil {
		sample.Secondary = channelValue(rec, *s.profile.Secondary)
		sample.HasSecondary = true
	}
	return sample
}

// channelValue берет поле записи и применяет масштаб (0 означает 1)
func channelValue(rec models.Record, ch config.Channel) float64 {
	v, _ := rec.Field(ch.Field)
	if ch.Scale != 0 {
		v *= ch.Scale
	}
	return v
}

func (s *Session) frame(latest []models.Sample, t float64) models.RenderFrame {
	left, right := analytics.WindowEdges(t, s.profile.VisibleSeconds(), s.profile.SamplingInterval.Seconds())

	f := models.RenderFrame{
		Session: s.id,
		Seq:     s.seq,
		Times:   make([]float64, len(latest)),
		Values:  make([]float64, len(latest)),
		Left:    left,
		Right:   right,
		Primary: s.profile.PrimaryAxis,
	}
	if s.profile.Secondary != nil {
		f.Secondary = make([]float64, len(latest))
		f.SecondAxis = s.profile.SecondaryAxis
	}
	for i, smp := range latest {
		f.Times[i] = smp.T
		f.Values[i] = smp.Value
		if f.Secondary != nil {
			f.Secondary[i] = smp.Secondary
		}
	}
	return f
}

// Latest возвращает до n последних отсчетов окна
func (s *Session) Latest(n int) []models.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window.Latest(n)
}

// Pause останавливает опросы; окно и фильтр замораживаются
func (s *Session) Pause() models.ControlState {
	if !s.paused.Swap(true) {
		s.log.Info("polling paused")
	}
	metrics.SetPaused(true)
	return s.State()
}

// Resume возобновляет опросы
func (s *Session) Resume() models.ControlState {
	if s.paused.Swap(false) {
		s.log.Info("polling resumed")
	}
	metrics.SetPaused(false)
	return s.State()
}

// Toggle переключает RUNNING/PAUSED
func (s *Session) Toggle() models.ControlState {
	wasPaused := s.paused.Toggle()
	if wasPaused {
		s.log.Info("polling resumed")
	} else {
		s.log.Info("polling paused")
	}
	metrics.SetPaused(!wasPaused)
	return s.State()
}

// State возвращает текущее состояние
func (s *Session) State() models.ControlState {
	if s.paused.Load() {
		return models.ControlState{State: StatePaused, Paused: true}
	}
	return models.ControlState{State: StateRunning}
}

// Stats возвращает статистику сессии
func (s *Session) Stats() models.StatsResponse {
	s.mu.RLock()
	length, capacity := s.window.Len(), s.window.Cap()
	mean, stdDev := s.window.Mean(), s.window.StdDev()
	s.mu.RUnlock()

	return models.StatsResponse{
		Profile:        s.profile.Name,
		WindowLen:      length,
		WindowCap:      capacity,
		Mean:           mean,
		StdDev:         stdDev,
		Accepted:       s.accepted.Load(),
		MalformedLines: s.malformed.Load(),
		EmptyPolls:     s.empty.Load(),
		SampleRate:     s.rate.Rate(),
		Paused:         s.paused.Load(),
	}
}

// CloseSource закрывает текущий источник (после переподключения он может
// отличаться от переданного в New)
func (s *Session) CloseSource() error {
	if s.src == nil {
		return nil
	}
	return s.src.Close()
}

// Close останавливает фоновую запись; источник закрывается через CloseSource
func (s *Session) Close() {
	if s.recorder != nil {
		s.recorder.stop()
	}
}
