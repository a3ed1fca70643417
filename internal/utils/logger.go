package utils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

// serviceTag prefixes text output with the service name and, for JSON
// output, records it under the "app" field instead.
type serviceTag struct {
	name string
	json bool
}

func (s serviceTag) Levels() []logrus.Level { return logrus.AllLevels }

func (s serviceTag) Fire(e *logrus.Entry) error {
	if s.json {
		e.Data["app"] = s.name
		return nil
	}
	e.Message = "[" + s.name + "] " + e.Message
	return nil
}

// InitLogger configures Logger from LOG_LEVEL (default info) and
// LOG_FORMAT ("text" or "json", default text).
func InitLogger(appName string) {
	configureLogger(Logger, os.Stdout, appName, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func configureLogger(l *logrus.Logger, out io.Writer, appName, level, format string) {
	l.SetOutput(out)

	asJSON := strings.EqualFold(format, "json")
	if asJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.ReplaceHooks(logrus.LevelHooks{})
	l.AddHook(serviceTag{name: appName, json: asJSON})

	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			l.Warnf("Invalid LOG_LEVEL %q, defaulting to info", level)
		} else {
			lvl = parsed
		}
	}
	l.SetLevel(lvl)
}
