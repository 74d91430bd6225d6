package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or the CLI can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Timef records the start of a pipeline stage and returns a function that
// logs the formatted message with the elapsed time. Nothing is logged until
// that function runs. Typical use:
//
//	defer monitoring.Timef("fit reducer on %d samples", n)()
func Timef(format string, v ...interface{}) func() {
	return timef(time.Now, format, v...)
}

func timef(now func() time.Time, format string, v ...interface{}) func() {
	start := now()
	args := append([]interface{}(nil), v...)
	return func() {
		Logf(format+" took %s", append(args, now().Sub(start).Round(time.Microsecond))...)
	}
}
