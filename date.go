package formulaeval

import (
	"math"
	"time"
)

// Excel date/time constants
const (
	// EXCEL_EPOCH_MS is December 30, 1899 00:00:00 UTC in Unix milliseconds,
	// the day before serial 1 once the phantom 1900-02-29 is accounted for
	EXCEL_EPOCH_MS = -2209161600000
	MS_PER_DAY     = 86400000

	// serial of the phantom 1900-02-29 kept for compatibility
	leapBugSerial = 60
	// first serial of the year 10000
	serialTooLarge = 2958466
)

var epoch1900 = time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)

// SerialToTime converts a 1900 date system serial number into a time.
// serial 60, the nonexistent 1900-02-29, maps to 1900-02-28.
func SerialToTime(serial float64) (time.Time, error) {
	if serial < 0 || serial >= serialTooLarge || math.IsNaN(serial) {
		return time.Time{}, NewSpreadsheetError(ErrorCodeNum, "date serial out of range")
	}
	days := math.Floor(serial)
	ms := math.Round((serial - days) * MS_PER_DAY)
	if days >= leapBugSerial {
		days--
	}
	return epoch1900.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond), nil
}

// TimeToSerial converts a time into a 1900 date system serial number.
func TimeToSerial(t time.Time) float64 {
	utc := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	serial := float64(utc.UnixMilli()-EXCEL_EPOCH_MS) / MS_PER_DAY
	if serial < leapBugSerial+1 {
		// before 1900-03-01 the phantom day has not happened yet
		serial--
	}
	return serial
}
