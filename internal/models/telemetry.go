// Package models содержит структуры данных телеметрии и кадров отрисовки
package models

import "time"

// Record представляет одну разобранную строку телеметрии (1 или 2 поля)
type Record struct {
	Fields [2]float64
	Arity  int
}

// Field возвращает значение поля i, ok=false если поля нет
func (r Record) Field(i int) (float64, bool) {
	if i < 0 || i >= r.Arity {
		return 0, false
	}
	return r.Fields[i], true
}

// Sample представляет принятый отсчет в скользящем окне
type Sample struct {
	T            float64 `json:"t"`
	Value        float64 `json:"value"`
	Secondary    float64 `json:"secondary,omitempty"`
	HasSecondary bool    `json:"has_secondary,omitempty"`
}

// Axis описывает диапазон и шаг делений оси Y
type Axis struct {
	Label string  `json:"label" yaml:"label"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Step  float64 `json:"step" yaml:"step"`
}

// RenderFrame содержит все, что нужно рендереру для одного кадра
type RenderFrame struct {
	Session    string    `json:"session"`
	Seq        uint64    `json:"seq"`
	Times      []float64 `json:"times"`
	Values     []float64 `json:"values"`
	Secondary  []float64 `json:"secondary,omitempty"`
	Left       float64   `json:"left"`
	Right      float64   `json:"right"`
	Primary    Axis      `json:"primary_axis"`
	SecondAxis *Axis     `json:"secondary_axis,omitempty"`
}

// ControlState представляет состояние RUNNING/PAUSED
type ControlState struct {
	State  string `json:"state"`
	Paused bool   `json:"paused"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Session   string    `json:"session"`
	Redis     string    `json:"redis"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse содержит статистику сессии
type StatsResponse struct {
	Profile        string  `json:"profile"`
	WindowLen      int     `json:"window_len"`
	WindowCap      int     `json:"window_cap"`
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
	Accepted       int64   `json:"accepted"`
	MalformedLines int64   `json:"malformed_lines"`
	EmptyPolls     int64   `json:"empty_polls"`
	SampleRate     int64   `json:"sample_rate"`
	Paused         bool    `json:"paused"`
}
