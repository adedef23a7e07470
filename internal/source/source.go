// Package source реализует источники строк телеметрии: произвольный
// io.Reader, последовательный порт и MQTT-топик
package source

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

var (
	// ErrSourceUnavailable источник отключился или вернул ошибку
	ErrSourceUnavailable = errors.New("sample source unavailable")
	// ErrNoLine в источнике нет готовой строки
	ErrNoLine = errors.New("no line available")
)

const (
	// DefaultBacklog емкость очереди необработанных строк
	DefaultBacklog = 4096
	// DefaultReadWait максимальное ожидание строки в ReadLine
	DefaultReadWait = 50 * time.Millisecond
	maxLineLen      = 64 * 1024
)

// SampleSource внешний поставщик строк телеметрии
type SampleSource interface {
	// Buffered возвращает количество строк, доступных прямо сейчас
	Buffered() int
	// ReadLine читает одну строку с ограниченным ожиданием
	ReadLine() (string, error)
	Close() error
}

// LineSource разбивает поток байт на строки в фоновой горутине
type LineSource struct {
	lines    chan string
	readWait time.Duration
	dropped  *atomic.Int64

	mu     sync.Mutex
	err    error
	closer io.Closer
	done   chan struct{}
	once   sync.Once
}

// NewLineSource запускает чтение строк из r. Если r реализует io.Closer,
// Close закрывает его
func NewLineSource(r io.Reader, backlog int) *LineSource {
	s := newLineSource(backlog)
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.readLoop(r)
	return s
}

func newLineSource(backlog int) *LineSource {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &LineSource{
		lines:    make(chan string, backlog),
		readWait: DefaultReadWait,
		dropped:  atomic.NewInt64(0),
		done:     make(chan struct{}),
	}
}

func (s *LineSource) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), maxLineLen)
	for scanner.Scan() {
		s.push(scanner.Text())
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.fail(err)
}

// push ставит строку в очередь, вытесняя самую старую при переполнении
func (s *LineSource) push(line string) {
	for {
		select {
		case <-s.done:
			return
		case s.lines <- line:
			return
		default:
		}
		select {
		case <-s.lines:
			s.dropped.Inc()
		default:
		}
	}
}

func (s *LineSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = errors.Wrap(ErrSourceUnavailable, err.Error())
	}
}

// Err возвращает зафиксированную ошибку источника
func (s *LineSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Buffered возвращает количество строк в очереди
func (s *LineSource) Buffered() int {
	return len(s.lines)
}

// Dropped возвращает количество вытесненных из очереди строк
func (s *LineSource) Dropped() int64 {
	return s.dropped.Load()
}

// ReadLine возвращает следующую строку. Пока в очереди есть строки, ошибка
// источника не сообщается
func (s *LineSource) ReadLine() (string, error) {
	select {
	case line := <-s.lines:
		return line, nil
	default:
	}

	if err := s.Err(); err != nil {
		return "", err
	}

	timer := time.NewTimer(s.readWait)
	defer timer.Stop()
	select {
	case line := <-s.lines:
		return line, nil
	case <-timer.C:
		if err := s.Err(); err != nil {
			return "", err
		}
		return "", ErrNoLine
	case <-s.done:
		return "", errors.Wrap(ErrSourceUnavailable, "closed")
	}
}

// Close останавливает источник
func (s *LineSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.fail(errors.New("closed"))
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
