package config

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"flowscope/internal/models"
)

// pwmPercent переводит 8-битный ШИМ (0–255) в проценты
const pwmPercent = 100.0 / 255.0

func floatPtr(v float64) *float64 { return &v }

var profiles = map[string]Profile{
	// Расход и ШИМ в одной строке "flow,pwm", две оси Y
	"flow-pwm": {
		Name:             "flow-pwm",
		Mode:             "pair",
		Primary:          Channel{Field: 0, Scale: 1},
		Secondary:        &Channel{Field: 1, Scale: pwmPercent},
		Capacity:         100,
		SamplingInterval: 100 * time.Millisecond,
		PrimaryAxis:      models.Axis{Label: "Flow (L/min)", Min: 0, Max: 10, Step: 1},
		SecondaryAxis:    &models.Axis{Label: "ENA PWM (%)", Min: 0, Max: 105, Step: 10},
	},
	// Только ШИМ из второго поля строки "flow,pwm"
	"pwm": {
		Name:             "pwm",
		Mode:             "pair",
		Primary:          Channel{Field: 1, Scale: pwmPercent},
		Capacity:         100,
		SamplingInterval: 100 * time.Millisecond,
		PrimaryAxis:      models.Axis{Label: "ENA PWM (%)", Min: 0, Max: 100, Step: 10},
	},
	// Быстрый одиночный расход со сглаживанием
	"flow": {
		Name:             "flow",
		Mode:             "scalar",
		Primary:          Channel{Field: 0, Scale: 1},
		Capacity:         5000,
		SamplingInterval: time.Millisecond,
		Alpha:            0.1,
		ClampMin:         floatPtr(0),
		PrimaryAxis:      models.Axis{Label: "Flow (L/min)", Min: -0.5, Max: 12, Step: 1},
	},
}

// LookupProfile возвращает копию встроенного профиля по имени
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, errors.Wrapf(ErrInvalid, "unknown profile %q (known: %v)", name, ProfileNames())
	}
	if p.Secondary != nil {
		sec := *p.Secondary
		p.Secondary = &sec
	}
	if p.SecondaryAxis != nil {
		ax := *p.SecondaryAxis
		p.SecondaryAxis = &ax
	}
	if p.ClampMin != nil {
		p.ClampMin = floatPtr(*p.ClampMin)
	}
	return p, nil
}

// ProfileNames возвращает имена встроенных профилей
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
