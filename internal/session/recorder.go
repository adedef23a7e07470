package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"flowscope/internal/metrics"
	"flowscope/internal/models"
)

const (
	recordQueue   = 1024
	recordTimeout = time.Second
)

// Recorder сохраняет принятые отсчеты во внешнее хранилище
type Recorder interface {
	RecordSample(ctx context.Context, s models.Sample) error
}

// asyncRecorder выносит запись из тика в отдельную горутину, чтобы медленное
// хранилище не задерживало опрос
type asyncRecorder struct {
	rec   Recorder
	queue chan models.Sample
	log   logrus.FieldLogger
	wg    sync.WaitGroup
	once  sync.Once
}

func newAsyncRecorder(rec Recorder, log logrus.FieldLogger) *asyncRecorder {
	a := &asyncRecorder{
		rec:   rec,
		queue: make(chan models.Sample, recordQueue),
		log:   log,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *asyncRecorder) loop() {
	defer a.wg.Done()
	for s := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := a.rec.RecordSample(ctx, s); err != nil {
			metrics.RecorderErrors.Inc()
			a.log.WithError(err).Warn("record sample failed")
		}
		cancel()
	}
}

func (a *asyncRecorder) record(s models.Sample) {
	select {
	case a.queue <- s:
	default:
		// Очередь переполнена, пропускаем
		metrics.RecorderErrors.Inc()
	}
}

// stop дожидается записи уже поставленных отсчетов
func (a *asyncRecorder) stop() {
	a.once.Do(func() {
		close(a.queue)
		a.wg.Wait()
	})
}
