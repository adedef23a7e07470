// Package ingest разбирает строки телеметрии и реализует политику
// "оставить только последнюю запись" при опросе источника
package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"flowscope/internal/models"
)

// MaxMagnitude предел модуля значения поля; строки вне [-MaxMagnitude,
// MaxMagnitude] считаются испорченными
const MaxMagnitude = 1e15

// Mode определяет ожидаемый формат строки
type Mode int

const (
	// Pair строка вида "<v1>,<v2>"
	Pair Mode = iota
	// Scalar строка вида "<v>"
	Scalar
)

// Arity возвращает ожидаемое количество полей
func (m Mode) Arity() int {
	if m == Scalar {
		return 1
	}
	return 2
}

func (m Mode) String() string {
	if m == Scalar {
		return "scalar"
	}
	return "pair"
}

// ParseMode разбирает имя режима из конфигурации
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pair", "":
		return Pair, nil
	case "scalar":
		return Scalar, nil
	}
	return Pair, errors.Errorf("unknown line mode %q", s)
}

// ParseLine разбирает строку в запись. Любая ошибка (число полей,
// нечисловое, неконечное или выходящее за MaxMagnitude значение) дает ok=false
func ParseLine(line string, mode Mode) (models.Record, bool) {
	line = strings.TrimSpace(strings.ToValidUTF8(line, ""))
	if line == "" {
		return models.Record{}, false
	}

	arity := mode.Arity()
	parts := strings.Split(line, ",")
	if len(parts) != arity {
		return models.Record{}, false
	}

	rec := models.Record{Arity: arity}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.Abs(v) > MaxMagnitude {
			return models.Record{}, false
		}
		rec.Fields[i] = v
	}
	return rec, true
}
