package alerting

import (
	"fmt"

	"classmon/internal/config"
	"classmon/internal/model"
)

// Evaluate maps one reading onto the threshold table and returns one
// alert per breached rule. Rules are independent; a single reading can
// breach several of them. Absent measurements never trigger. The
// function is pure: identical input always yields identical output,
// and alert timestamps come from the reading, not the wall clock.
//
// Repeated breaches produce repeated alert rows on purpose. The breach
// history stays complete; "is there an active alert of type X" is a
// query against unresolved rows, not a property of evaluation.
func Evaluate(r model.Reading, t config.ThresholdConfig) []model.Alert {
	var out []model.Alert
	add := func(typ model.AlertType, sev model.Severity, msg string, value float64) {
		out = append(out, model.Alert{
			Type:      typ,
			Severity:  sev,
			Message:   msg,
			Value:     value,
			Timestamp: r.Timestamp,
		})
	}

	if r.SoundLevel != nil && *r.SoundLevel > t.SoundMax {
		add(model.AlertSound, model.SeverityWarning,
			fmt.Sprintf("High sound level detected: %.2f%%", *r.SoundLevel), *r.SoundLevel)
	}
	if r.Temperature != nil {
		if *r.Temperature > t.TempHigh {
			add(model.AlertTemperature, model.SeverityWarning,
				fmt.Sprintf("High temperature: %.2f C", *r.Temperature), *r.Temperature)
		}
		if *r.Temperature < t.TempLow {
			add(model.AlertTemperature, model.SeverityWarning,
				fmt.Sprintf("Low temperature: %.2f C", *r.Temperature), *r.Temperature)
		}
	}
	if r.Humidity != nil {
		if *r.Humidity > t.HumidityHigh {
			add(model.AlertHumidity, model.SeverityInfo,
				fmt.Sprintf("High humidity: %.2f%%", *r.Humidity), *r.Humidity)
		}
		if *r.Humidity < t.HumidityLow {
			add(model.AlertHumidity, model.SeverityInfo,
				fmt.Sprintf("Low humidity: %.2f%%", *r.Humidity), *r.Humidity)
		}
	}
	if r.COLevel != nil && *r.COLevel > t.COMax {
		add(model.AlertCOLevel, model.SeverityCritical,
			fmt.Sprintf("High CO level: %.2f PPM", *r.COLevel), *r.COLevel)
	}
	return out
}
