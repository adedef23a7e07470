// Package main запускает flowscope: чтение телеметрии расхода и ШИМ
// с микроконтроллера и потоковую отдачу кадров скользящего графика.
// Сервис реализует:
// - опрос источника (serial, MQTT или stdin) с политикой "последняя запись"
// - скользящее окно фиксированной емкости и EMA-сглаживание
// - HTTP API: кадры, WebSocket поток, пауза/продолжение, статистика
// - запись принятых отсчетов в Redis
// - экспорт метрик в Prometheus
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"flowscope/internal/cache"
	"flowscope/internal/config"
	"flowscope/internal/handlers"
	"flowscope/internal/session"
	"flowscope/internal/source"
)

func main() {
	cfg, err := config.Load(os.Getenv("FLOWSCOPE_CONFIG"))
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log := newLogger(cfg)
	sessionID := uuid.NewString()
	entry := log.WithFields(logrus.Fields{
		"session": sessionID,
		"profile": cfg.Profile.Name,
		"source":  cfg.Source,
	})
	entry.WithField("go", runtime.Version()).Info("starting flowscope")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := sourceOpener(cfg, entry)
	src, err := open(ctx)
	if err != nil {
		entry.WithError(err).Fatal("failed to open sample source")
	}

	// Redis опционален: без него сервис работает без записи отсчетов
	var recorder *cache.RedisRecorder
	if cfg.RedisAddr != "" {
		recorder = connectRedis(ctx, cfg, sessionID, entry)
	}

	opts := session.Options{Logger: entry}
	var store handlers.SampleStore
	if recorder != nil {
		opts.Recorder = recorder
		store = recorder
	}

	sess, err := session.New(sessionID, cfg.Profile, src, opts)
	if err != nil {
		entry.WithError(err).Fatal("failed to create session")
	}

	hub := handlers.NewFrameHub(entry)
	handler := handlers.NewHandler(sess, hub, store, entry)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		entry.WithField("addr", cfg.ServerAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			entry.WithError(err).Error("http server error")
			stop()
		}
	}()

	// Цикл тиков выполняется в главной горутине
	runErr := sess.Run(ctx, hub, session.PolicyFromConfig(cfg, open))

	entry.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Warn("http server shutdown error")
	}
	sess.Close()
	if err := sess.CloseSource(); err != nil {
		entry.WithError(err).Debug("close source")
	}
	if recorder != nil {
		recorder.Close()
	}

	if runErr != nil {
		entry.WithError(runErr).Fatal("stopped on source failure")
	}
	entry.Info("flowscope stopped")
}

// newLogger настраивает logrus по конфигурации
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// sourceOpener возвращает функцию открытия источника по конфигурации;
// она же используется для переподключения
func sourceOpener(cfg *config.Config, log logrus.FieldLogger) session.Opener {
	return func(ctx context.Context) (source.SampleSource, error) {
		switch cfg.Source {
		case config.SourceMQTT:
			return source.OpenMQTT(source.MQTTConfig{
				Server:   cfg.MQTT.Server,
				Topic:    cfg.MQTT.Topic,
				QoS:      byte(cfg.MQTT.QoS),
				ClientID: cfg.MQTT.ClientID,
				Username: cfg.MQTT.Username,
				Password: cfg.MQTT.Password,
				Backlog:  cfg.Backlog,
			}, log)
		case config.SourceStdin:
			return source.NewLineSource(os.Stdin, cfg.Backlog), nil
		default:
			log.WithField("port", cfg.Serial.Port).Info("opening serial port")
			return source.OpenSerial(source.SerialConfig{
				Name:        cfg.Serial.Port,
				Baud:        cfg.Serial.Baud,
				ReadTimeout: cfg.Serial.ReadTimeout,
				SettleDelay: cfg.Serial.SettleDelay,
				Backlog:     cfg.Backlog,
			})
		}
	}
}

// connectRedis подключается к Redis с повторами; nil если не удалось
func connectRedis(ctx context.Context, cfg *config.Config, sessionID string, log logrus.FieldLogger) *cache.RedisRecorder {
	var err error
	for i := 0; i < 5; i++ {
		var rec *cache.RedisRecorder
		rec, err = cache.NewRedisRecorder(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, sessionID, cfg.RecordLimit)
		if err == nil {
			log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
			return rec
		}
		log.WithError(err).WithField("attempt", i+1).Warn("redis connection attempt failed")
		if i < 4 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}
	log.WithError(err).Warn("running without redis recording")
	return nil
}
