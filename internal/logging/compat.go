package logging

import (
	"fmt"
	"os"
)

// Fatal logs at error level and exits. Only meant for command-line startup
// errors; library code reports errors to its caller.
func (log *Logger) Fatal(v ...interface{}) {
	log.Log(Error, 1, "%s", fmt.Sprint(v...))
	os.Exit(1)
}

func (log *Logger) Fatalf(format string, v ...interface{}) {
	log.Log(Error, 1, format, v...)
	os.Exit(1)
}
