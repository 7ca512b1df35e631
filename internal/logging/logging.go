package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger from the log config values.
// Unknown levels fall back to info.
func Setup(level, format string) {
	if strings.EqualFold(format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// MaskEmail keeps the first and last character of each address part so log
// lines stay correlatable without carrying full customer addresses.
func MaskEmail(s string) string {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return s
	}
	parts := strings.Split(s[at+1:], ".")
	for i, p := range parts {
		parts[i] = mask(p)
	}
	return mask(s[:at]) + "@" + strings.Join(parts, ".")
}

func mask(part string) string {
	if len(part) <= 1 {
		return "*"
	}
	if len(part) == 2 {
		return part[:1] + "*"
	}
	return part[:1] + strings.Repeat("*", len(part)-2) + part[len(part)-1:]
}
