package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"flowscope/internal/config"
	"flowscope/internal/metrics"
	"flowscope/internal/models"
	"flowscope/internal/source"
)

// Renderer получает кадр после каждого принятого отсчета
type Renderer interface {
	Render(models.RenderFrame)
}

// Opener заново открывает источник после отказа
type Opener func(ctx context.Context) (source.SampleSource, error)

// Policy реакция на отказ источника
type Policy struct {
	// Reconnect false означает завершение Run с ошибкой
	Reconnect   bool
	Reopen      Opener
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// PolicyFromConfig собирает политику из конфигурации
func PolicyFromConfig(cfg *config.Config, reopen Opener) Policy {
	return Policy{
		Reconnect:   cfg.SourceErrorPolicy == config.PolicyReconnect,
		Reopen:      reopen,
		MinBackoff:  cfg.ReconnectMin,
		MaxBackoff:  cfg.ReconnectMax,
		MaxAttempts: cfg.ReconnectAttempts,
	}
}

// Run вызывает Tick с периодом опроса профиля до отмены ctx. Тики не
// перекрываются: следующий начинается только после завершения предыдущего
func (s *Session) Run(ctx context.Context, r Renderer, policy Policy) error {
	ticker := time.NewTicker(s.profile.SamplingInterval)
	defer ticker.Stop()

	rateTicker := time.NewTicker(time.Second)
	defer rateTicker.Stop()

	s.log.WithField("interval", s.profile.SamplingInterval).Info("tick loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("tick loop stopped")
			return nil
		case <-rateTicker.C:
			metrics.SampleRate.Set(float64(s.rate.Rate()))
		case now := <-ticker.C:
			started := time.Now()
			frame, ok, err := s.Tick(now)
			metrics.TickLatency.Observe(time.Since(started).Seconds())
			if err != nil {
				if rerr := s.handleSourceError(ctx, err, policy); rerr != nil {
					return rerr
				}
				continue
			}
			if ok && r != nil {
				r.Render(frame)
			}
		}
	}
}

// handleSourceError применяет политику к отказу источника. Счетчик попыток
// сбрасывается только после принятого отсчета, поэтому источник, который
// открывается и сразу отказывает, тоже исчерпывает MaxAttempts
func (s *Session) handleSourceError(ctx context.Context, cause error, p Policy) error {
	s.log.WithError(cause).Error("source unavailable")
	if !p.Reconnect || p.Reopen == nil {
		return cause
	}

	if s.src != nil {
		if err := s.src.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close source")
		}
	}

	for p.MaxAttempts <= 0 || s.reconnects < p.MaxAttempts {
		s.reconnects++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.backoff(s.reconnects)):
		}

		src, err := p.Reopen(ctx)
		if err == nil {
			s.src = src
			metrics.Reconnects.Inc()
			s.log.WithField("attempt", s.reconnects).Info("source reconnected")
			return nil
		}
		s.log.WithError(err).WithField("attempt", s.reconnects).Warn("source reconnect failed")
	}
	return errors.Wrapf(cause, "gave up after %d reconnect attempts", s.reconnects)
}

// backoff задержка перед попыткой attempt (с 1): MinBackoff, удваиваемый
// до MaxBackoff
func (p Policy) backoff(attempt int) time.Duration {
	d := p.MinBackoff
	if d <= 0 {
		d = time.Second
	}
	limit := p.MaxBackoff
	if limit <= 0 {
		limit = time.Minute
	}
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}
