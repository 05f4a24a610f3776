// Package duration parses ISO-8601 durations such as "PT30S" or "P1DT12H"
// into time.Duration values.
//
// Only the fixed length designators are accepted: weeks, days, hours,
// minutes and seconds (seconds may carry a fraction). Years and months are
// rejected because their length depends on the calendar.
package duration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/wasilibs/go-re2"
)

// ErrInvalid is returned for strings that are not a supported ISO-8601 duration.
var ErrInvalid = errors.New("invalid ISO-8601 duration")

var (
	weekPattern     = re2.MustCompile(`^P(\d+)W$`)
	durationPattern = re2.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d+)?)S)?)?$`)
)

const day = 24 * time.Hour

// Parse converts an ISO-8601 duration string into a time.Duration.
func Parse(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "P" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	if m := weekPattern.FindStringSubmatch(s); m != nil {
		weeks, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return checked(s, float64(weeks)*7*float64(day))
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if m[1] != "" || m[2] != "" {
		return 0, fmt.Errorf("%w: %q uses calendar units (years or months)", ErrInvalid, s)
	}

	var total float64
	units := []struct {
		value string
		unit  time.Duration
	}{
		{m[3], day},
		{m[4], time.Hour},
		{m[5], time.Minute},
	}
	for _, u := range units {
		if u.value == "" {
			continue
		}
		n, err := strconv.ParseInt(u.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		total += float64(n) * float64(u.unit)
	}
	if m[6] != "" {
		secs, err := strconv.ParseFloat(strings.Replace(m[6], ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		total += secs * float64(time.Second)
	}

	return checked(s, total)
}

// Seconds parses s and returns its length in whole seconds, rounding any
// fraction up so a sub-second remainder never produces a zero period.
func Seconds(s string) (int64, error) {
	d, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return int64(math.Ceil(d.Seconds())), nil
}

// Format renders d as an ISO-8601 duration using hours, minutes and seconds.
func Format(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteString("P")
	if days := d / day; days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * day
	}
	if d == 0 {
		return b.String()
	}
	b.WriteString("T")
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		d -= m * time.Minute
	}
	if d > 0 {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		b.WriteString("S")
	}
	return b.String()
}

func checked(s string, nanos float64) (time.Duration, error) {
	if nanos > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalid, s)
	}
	return time.Duration(nanos), nil
}
