package timeutil

import (
	"math"
	"time"
)

// ISOLayout is the ISO-8601 layout used on the APECS control channel.
const ISOLayout = "2006-01-02T15:04:05.000000"

// gpsBehindTAI is the constant offset between TAI and GPS time.
const gpsBehindTAI = 19 * time.Second

type leapStep struct {
	from   time.Time
	offset time.Duration
}

// leapSteps lists TAI-UTC from the introduction of integer leap seconds.
// New entries go at the end when IERS announces one.
var leapSteps = []leapStep{
	{date(1972, 1), 10 * time.Second},
	{date(1972, 7), 11 * time.Second},
	{date(1973, 1), 12 * time.Second},
	{date(1974, 1), 13 * time.Second},
	{date(1975, 1), 14 * time.Second},
	{date(1976, 1), 15 * time.Second},
	{date(1977, 1), 16 * time.Second},
	{date(1978, 1), 17 * time.Second},
	{date(1979, 1), 18 * time.Second},
	{date(1980, 1), 19 * time.Second},
	{date(1981, 7), 20 * time.Second},
	{date(1982, 7), 21 * time.Second},
	{date(1983, 7), 22 * time.Second},
	{date(1985, 7), 23 * time.Second},
	{date(1988, 1), 24 * time.Second},
	{date(1990, 1), 25 * time.Second},
	{date(1991, 1), 26 * time.Second},
	{date(1992, 7), 27 * time.Second},
	{date(1993, 7), 28 * time.Second},
	{date(1994, 7), 29 * time.Second},
	{date(1996, 1), 30 * time.Second},
	{date(1997, 7), 31 * time.Second},
	{date(1999, 1), 32 * time.Second},
	{date(2006, 1), 33 * time.Second},
	{date(2009, 1), 34 * time.Second},
	{date(2012, 7), 35 * time.Second},
	{date(2015, 7), 36 * time.Second},
	{date(2017, 1), 37 * time.Second},
}

func date(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// TAIOffset returns TAI-UTC at the given instant. Instants before 1972 use
// the first tabulated value.
func TAIOffset(t time.Time) time.Duration {
	t = t.UTC()
	offset := leapSteps[0].offset
	for _, s := range leapSteps {
		if t.Before(s.from) {
			break
		}
		offset = s.offset
	}
	return offset
}

// UTCToTAI returns the TAI wall-clock reading for a UTC instant. The result
// carries the UTC location but is labelled TAI by convention.
func UTCToTAI(t time.Time) time.Time {
	return t.UTC().Add(TAIOffset(t))
}

// UTCToGPS returns the GPS wall-clock reading for a UTC instant.
func UTCToGPS(t time.Time) time.Time {
	return UTCToTAI(t).Add(-gpsBehindTAI)
}

// GPSSeconds returns the GPS wall-clock reading of a UTC instant as seconds
// since the Unix epoch, the representation written to timestamp files.
func GPSSeconds(t time.Time) float64 {
	g := UTCToGPS(t)
	return float64(g.UnixNano()) / 1e9
}

// FromGPSSeconds converts a GPS seconds reading back into a GPS-labelled
// time value. The fraction is rounded to whole microseconds, the resolution
// of the timestamp files, so float error never drops a digit.
func FromGPSSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1000).UTC()
}

// FormatTAI formats the TAI reading of a UTC instant for APECS replies.
// Whole seconds carry no fraction.
func FormatTAI(t time.Time) string {
	tai := UTCToTAI(t)
	if tai.Nanosecond()/1000 == 0 {
		return tai.Format("2006-01-02T15:04:05")
	}
	return tai.Format(ISOLayout)
}
