package domain

import "fmt"

// Day types of a weekly schedule profile.
const (
	DayWeekday  = "WEEKDAY"
	DaySaturday = "SATURDAY"
	DaySunday   = "SUNDAY"
)

// DayTypes lists the supported day-type profile keys.
var DayTypes = []string{DayWeekday, DaySaturday, DaySunday}

// HoursPerDay is the length of each day-type profile.
const HoursPerDay = 24

// MonthNames are the short month labels used in synthesized schedule field
// names and human-readable change summaries.
var MonthNames = []string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// MonthlyMultiplierField prefixes the synthesized ledger field for month edits.
const MonthlyMultiplierField = "MONTHLY_MULTIPLIER"

// Schedule is the lazily fetched per-building time-series sub-document:
// hourly multipliers per day type plus twelve month-level multipliers.
type Schedule struct {
	Monthly  []float64            `json:"MONTHLY_MULTIPLIER"`
	Profiles map[string][]float64 `json:"SCHEDULES"`
}

// Clone returns an independent copy of the schedule.
func (s Schedule) Clone() Schedule {
	cp := Schedule{}
	cp.Monthly = append([]float64(nil), s.Monthly...)
	if s.Profiles != nil {
		cp.Profiles = make(map[string][]float64, len(s.Profiles))
		for day, hours := range s.Profiles {
			cp.Profiles[day] = append([]float64(nil), hours...)
		}
	}
	return cp
}

// MonthField synthesizes the ledger field name for a month edit, e.g.
// "MONTHLY_MULTIPLIER_Jun" for month index 5.
func MonthField(month int) string {
	if month < 0 || month >= len(MonthNames) {
		return fmt.Sprintf("%s_%d", MonthlyMultiplierField, month)
	}
	return fmt.Sprintf("%s_%s", MonthlyMultiplierField, MonthNames[month])
}

// HourField synthesizes the ledger field name for an hourly edit, e.g.
// "WEEKDAY_14" for hour 14 of the weekday profile.
func HourField(dayType string, hour int) string {
	return fmt.Sprintf("%s_%d", dayType, hour)
}

// ValidDayType reports whether dayType names a supported profile.
func ValidDayType(dayType string) bool {
	for _, d := range DayTypes {
		if d == dayType {
			return true
		}
	}
	return false
}
