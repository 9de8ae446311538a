package energy

import (
	"sort"
	"time"
)

// Summary aggregates one computed series for display consumers.
type Summary struct {
	TotalKWH  float64
	AvgPowerW float64
	MaxPowerW float64
}

// Summarize returns the total energy and average/max power of a series.
func Summarize(rows []Row) Summary {
	var s Summary
	if len(rows) == 0 {
		return s
	}
	var powerSum float64
	for _, r := range rows {
		s.TotalKWH += r.EnergyKWH
		powerSum += r.TotalPower
		if r.TotalPower > s.MaxPowerW {
			s.MaxPowerW = r.TotalPower
		}
	}
	s.AvgPowerW = powerSum / float64(len(rows))
	return s
}

// DailyTotal is the energy consumed on one calendar day.
type DailyTotal struct {
	Day time.Time // midnight, location of the input timestamps
	KWH float64
}

// DailyTotals buckets interval energy per calendar day.
func DailyTotals(rows []Row) []DailyTotal {
	byDay := make(map[time.Time]float64)
	for _, r := range rows {
		day := midnight(r.Timestamp)
		byDay[day] += r.EnergyKWH
	}
	out := make([]DailyTotal, 0, len(byDay))
	for day, kwh := range byDay {
		out = append(out, DailyTotal{Day: day, KWH: kwh})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// TodayBaseline sums the interval energy already covered by history for the
// calendar day containing now, and reports the latest covered timestamp.
// The live accumulator uses the timestamp as its no-double-count watermark.
func TodayBaseline(rows []Row, now time.Time) (kwh float64, last time.Time) {
	day := midnight(now.In(time.UTC))
	for _, r := range rows {
		if midnight(r.Timestamp).Equal(day) {
			kwh += r.EnergyKWH
			if r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
	}
	return kwh, last
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
