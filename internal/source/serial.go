package source

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialConfig параметры последовательного порта
type SerialConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
	// SettleDelay пауза после открытия порта, пока МК перезагружается
	SettleDelay time.Duration
	Backlog     int
}

// OpenSerial открывает порт, ждет перезагрузки МК, сбрасывает стартовый
// мусор во входном буфере и возвращает источник строк
func OpenSerial(cfg SerialConfig) (*LineSource, error) {
	if cfg.Name == "" {
		return nil, errors.New("serial port name is empty")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 9600
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "open %s: %v", cfg.Name, err)
	}

	if cfg.SettleDelay > 0 {
		time.Sleep(cfg.SettleDelay)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "flush %s: %v", cfg.Name, err)
	}

	return NewLineSource(&timeoutReader{port: port}, cfg.Backlog), nil
}

// timeoutReader скрывает пустые чтения по таймауту порта, чтобы сканер
// не принимал их за конец потока
type timeoutReader struct {
	port *serial.Port
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	for {
		n, err := r.port.Read(p)
		if n > 0 || (err != nil && !isTimeout(err)) {
			return n, err
		}
	}
}

func (r *timeoutReader) Close() error {
	return r.port.Close()
}

// isTimeout на posix истекший VTIME выглядит как io.EOF от os.File
func isTimeout(err error) bool {
	return errors.Is(err, io.EOF)
}
