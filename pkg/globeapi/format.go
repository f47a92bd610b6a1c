package globeapi

import (
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatValue renders v for display in mode's unit, e.g. "6,363 kg oe/capita".
// Values of 100 or more are shown as whole numbers, smaller ones keep two decimals.
func FormatValue(mode Mode, v float64) string {
	var number string
	if math.Abs(v) >= 100 {
		number = humanize.Comma(int64(math.Round(v)))
	} else {
		number = humanize.CommafWithDigits(math.Round(v*100)/100, 2)
	}
	if mode.DisplayUnit == "" {
		return number
	}
	if mode.DisplayUnit == "%" {
		return number + "%"
	}
	return strings.Join([]string{number, mode.DisplayUnit}, " ")
}
