package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envVar = "LOGLEVEL"

var tagLevels []struct {
	tag   string
	level Level
}

// Every logger derived with WithTag, so that SetDefaultLevel can reach loggers
// created during package initialization.
var (
	registryMu sync.Mutex
	registry   []*Logger
)

func init() {
	parseDirectives(os.Getenv(envVar))
	DefaultLogger.Level = defaultLevel
}

// Parse comma-separated "tag=level" directives. If "tag=" is absent, use the
// level as the default.
func parseDirectives(s string) {
	for _, d := range strings.Split(s, ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		levelString := v[len(v)-1]
		if level, err := ParseLevel(levelString); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid %s directive '%s': %s\n", envVar, d, err)
		} else {
			if len(v) == 1 {
				defaultLevel = level
			} else {
				tagLevels = append(tagLevels, struct {
					tag   string
					level Level
				}{v[0], level})
			}
		}
	}
}

func determineLevel(tag string, fallback Level) Level {
	if level, ok := explicitLevel(tag); ok {
		return level
	}
	return fallback
}

func explicitLevel(tag string) (Level, bool) {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level, true
		}
	}
	return 0, false
}

func register(log *Logger) *Logger {
	registryMu.Lock()
	registry = append(registry, log)
	registryMu.Unlock()
	return log
}

// SetDefaultLevel changes the level of the default logger and of every tagged
// logger that has no explicit LOGLEVEL directive. Meant to be called once at
// startup, before logging goroutines are running.
func SetDefaultLevel(level Level) {
	registryMu.Lock()
	defer registryMu.Unlock()

	defaultLevel = level
	DefaultLogger.Level = level
	for _, log := range registry {
		if _, ok := explicitLevel(log.Tag); !ok {
			log.Level = level
		}
	}
}
