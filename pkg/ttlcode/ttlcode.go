// Package ttlcode resolves the enumerated time-to-live codes shared by the
// chunked and single-shot upload paths (spec §6).
package ttlcode

import "time"

// Default is substituted for any code not in the enumerated set.
const Default = "3d"

var durations = map[string]time.Duration{
	"1h":  time.Hour,
	"3h":  3 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"14d": 14 * 24 * time.Hour,
}

// Resolve returns the canonical code and its duration. Unknown codes fall
// back to Default.
func Resolve(code string) (string, time.Duration) {
	if d, ok := durations[code]; ok {
		return code, d
	}
	return Default, durations[Default]
}

// Expires returns the absolute expiry epoch for code computed against now.
func Expires(code string, now int64) (canonical string, expires int64) {
	canonical, d := Resolve(code)
	return canonical, now + int64(d.Seconds())
}
