package ingest

import (
	"github.com/pkg/errors"

	"flowscope/internal/models"
	"flowscope/internal/source"
)

// DrainResult итог одного опроса источника
type DrainResult struct {
	Record    models.Record
	OK        bool
	Lines     int
	Malformed int
}

// DrainLatest читает все строки, накопленные к моменту опроса, и оставляет
// только последнюю корректную запись. OK=false означает "нет новых данных".
// Количество читаемых строк ограничено значением Buffered() на старте опроса
func DrainLatest(src source.SampleSource, mode Mode) (DrainResult, error) {
	var res DrainResult

	pending := src.Buffered()
	for i := 0; i < pending; i++ {
		line, err := src.ReadLine()
		if errors.Is(err, source.ErrNoLine) {
			break
		}
		if err != nil {
			if res.OK {
				// ошибка будет сообщена на следующем опросе
				break
			}
			return res, err
		}

		res.Lines++
		rec, ok := ParseLine(line, mode)
		if !ok {
			res.Malformed++
			continue
		}
		res.Record = rec
		res.OK = true
	}

	if pending == 0 {
		if r, ok := src.(errReporter); ok {
			if err := r.Err(); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// errReporter источник, умеющий сообщить о зафиксированной ошибке без чтения
type errReporter interface {
	Err() error
}
