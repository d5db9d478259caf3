package reportutils

// This package holds the formatting helpers that scenario reports and log
// lines share, so that durations and counts read the same everywhere.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const decimalPrecision = 2

var realNumFmtPattern = "%." + strconv.Itoa(decimalPrecision) + "f"

var printer = message.NewPrinter(language.AmericanEnglish)

type realNum interface {
	constraints.Float | constraints.Integer
}

// DurationToHMS stringifies `duration` as, e.g., "1h 22m 3.23s".
// It’s a lot like Duration.String(), but with spaces between,
// and the lowest unit shown is always the second.
func DurationToHMS(duration time.Duration) string {
	hours := int(math.Floor(duration.Hours()))
	minutes := int(math.Floor(duration.Minutes())) % 60

	secs := math.Mod(duration.Seconds(), 60)

	str := FmtReal(secs) + "s"

	if hours > 0 {
		str = fmt.Sprintf("%dh %dm %s", hours, minutes, str)
	} else if minutes > 0 {
		str = fmt.Sprintf("%dm %s", minutes, str)
	}

	return str
}

// FmtReal provides a standard formatting of real numbers, with a consistent
// precision and trailing decimal zeros removed.
func FmtReal[T realNum](num T) string {
	return printer.Sprintf(realNumFmtPattern, num)
}

// FmtCount formats an integer count with thousands separators.
func FmtCount[T constraints.Integer](count T) string {
	return humanize.Comma(int64(count))
}

// FmtPercent returns a stringified percentage without a trailing `%`,
// formatted as per FmtReal(). Anything short of 100% never rounds up
// to "100".
func FmtPercent[T, U realNum](numerator T, denominator U) string {
	if denominator == 0 {
		return "0"
	}

	str := FmtReal(float64(100*numerator) / float64(denominator))

	if str == "100" && float64(numerator) < float64(denominator) {
		return "99." + strings.Repeat("9", decimalPrecision)
	}

	return str
}

// Truncate shortens s to at most maxLen runes, marking the cut with an
// ellipsis. Reports use it to keep long server messages in one table cell.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}

	if maxLen <= 1 {
		return string(runes[:maxLen])
	}

	return string(runes[:maxLen-1]) + "…"
}
