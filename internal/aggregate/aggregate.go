package aggregate

import (
	"sort"
	"time"

	"classmon/internal/model"
)

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// Liveness reports whether a device is online given its most recent
// reading. No reading at all is always offline.
func Liveness(latest time.Time, hasReading bool, now time.Time, offlineAfter time.Duration) Status {
	if !hasReading {
		return StatusOffline
	}
	if now.Sub(latest) < offlineAfter {
		return StatusOnline
	}
	return StatusOffline
}

// Summary holds trailing-window statistics. Averages are nil when no
// reading in the window carried that field.
type Summary struct {
	AvgSound      *float64 `json:"avgSound,omitempty"`
	MaxSound      *float64 `json:"maxSound,omitempty"`
	AvgTemp       *float64 `json:"avgTemp,omitempty"`
	MaxTemp       *float64 `json:"maxTemp,omitempty"`
	MinTemp       *float64 `json:"minTemp,omitempty"`
	AvgHumidity   *float64 `json:"avgHumidity,omitempty"`
	AvgCO         *float64 `json:"avgCO,omitempty"`
	MaxCO         *float64 `json:"maxCO,omitempty"`
	TotalReadings int      `json:"totalReadings"`
}

// Bucket is one hour of readings rolled up. Hour is the bucket key,
// truncated to the hour in UTC.
type Bucket struct {
	Hour        time.Time `json:"hour"`
	AvgSound    *float64  `json:"avgSound,omitempty"`
	AvgTemp     *float64  `json:"avgTemp,omitempty"`
	MaxTemp     *float64  `json:"maxTemp,omitempty"`
	MinTemp     *float64  `json:"minTemp,omitempty"`
	AvgHumidity *float64  `json:"avgHumidity,omitempty"`
	AvgCO       *float64  `json:"avgCO,omitempty"`
	Count       int       `json:"count"`
}

type meanAcc struct {
	sum float64
	n   int
}

func (a *meanAcc) add(v *float64) {
	if v == nil {
		return
	}
	a.sum += *v
	a.n++
}

func (a *meanAcc) mean() *float64 {
	if a.n == 0 {
		return nil
	}
	m := a.sum / float64(a.n)
	return &m
}

type extremeAcc struct {
	min, max float64
	seen     bool
}

func (a *extremeAcc) add(v *float64) {
	if v == nil {
		return
	}
	if !a.seen || *v < a.min {
		a.min = *v
	}
	if !a.seen || *v > a.max {
		a.max = *v
	}
	a.seen = true
}

func (a *extremeAcc) bounds() (*float64, *float64) {
	if !a.seen {
		return nil, nil
	}
	lo, hi := a.min, a.max
	return &lo, &hi
}

// Summarize computes per-field means over the given readings. A nil
// field is excluded from that field's mean only; the rest of the row
// still counts.
func Summarize(readings []model.Reading) Summary {
	var sound, temp, humidity, co meanAcc
	var soundExt, tempExt, coExt extremeAcc
	for _, r := range readings {
		sound.add(r.SoundLevel)
		temp.add(r.Temperature)
		humidity.add(r.Humidity)
		co.add(r.COLevel)
		soundExt.add(r.SoundLevel)
		tempExt.add(r.Temperature)
		coExt.add(r.COLevel)
	}
	out := Summary{
		AvgSound:      sound.mean(),
		AvgTemp:       temp.mean(),
		AvgHumidity:   humidity.mean(),
		AvgCO:         co.mean(),
		TotalReadings: len(readings),
	}
	_, out.MaxSound = soundExt.bounds()
	out.MinTemp, out.MaxTemp = tempExt.bounds()
	_, out.MaxCO = coExt.bounds()
	return out
}

type bucketAcc struct {
	sound, temp, humidity, co meanAcc
	tempExt                   extremeAcc
	count                     int
}

// HourlyBuckets groups readings by their timestamp truncated to the
// hour and rolls each group up. Buckets come back in ascending order;
// hours with no readings are simply absent.
func HourlyBuckets(readings []model.Reading) []Bucket {
	byHour := make(map[time.Time]*bucketAcc)
	for _, r := range readings {
		hour := r.Timestamp.UTC().Truncate(time.Hour)
		acc, ok := byHour[hour]
		if !ok {
			acc = &bucketAcc{}
			byHour[hour] = acc
		}
		acc.sound.add(r.SoundLevel)
		acc.temp.add(r.Temperature)
		acc.humidity.add(r.Humidity)
		acc.co.add(r.COLevel)
		acc.tempExt.add(r.Temperature)
		acc.count++
	}

	hours := make([]time.Time, 0, len(byHour))
	for hour := range byHour {
		hours = append(hours, hour)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make([]Bucket, 0, len(hours))
	for _, hour := range hours {
		acc := byHour[hour]
		b := Bucket{
			Hour:        hour,
			AvgSound:    acc.sound.mean(),
			AvgTemp:     acc.temp.mean(),
			AvgHumidity: acc.humidity.mean(),
			AvgCO:       acc.co.mean(),
			Count:       acc.count,
		}
		b.MinTemp, b.MaxTemp = acc.tempExt.bounds()
		out = append(out, b)
	}
	return out
}
