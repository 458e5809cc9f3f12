package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Serial dates outside this window are treated as ordinary numbers
// (1954-10-04 .. 2119-01-10).
const (
	minDateSerial = 20000
	maxDateSerial = 80000
)

var (
	clockPattern     = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::\d{2})?`)
	dayFirstPattern  = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})(?:[ T].*)?$`)
	yearFirstPattern = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})(?:[ T].*)?$`)

	serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
)

// Time returns HH:MM for clock strings and day fractions, or the trimmed
// input when neither matches.
func Time(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if m := clockPattern.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:%s", hour, m[2])
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f < 1 {
		minutes := int(math.Round(f * 24 * 60))
		return fmt.Sprintf("%02d:%02d", (minutes/60)%24, minutes%60)
	}

	return s
}

// Date returns YYYY-MM-DD for day-first, year-first and serial inputs, or the
// trimmed input when none matches.
func Date(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if m := dayFirstPattern.FindStringSubmatch(s); m != nil {
		return padDate(m[3], m[2], m[1])
	}
	if m := yearFirstPattern.FindStringSubmatch(s); m != nil {
		return padDate(m[1], m[2], m[3])
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minDateSerial && f <= maxDateSerial {
		return serialEpoch.AddDate(0, 0, int(math.Floor(f))).Format("2006-01-02")
	}

	return s
}

func padDate(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}
