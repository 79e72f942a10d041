// Package log configures the structured log output shared by the agents.
package log

import (
	"github.com/sirupsen/logrus"
)

// NewFormatter returns the formatter used by all swsslite binaries.
func NewFormatter(colors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05.000",
		DisableColors:    !colors,
		QuoteEmptyFields: true,
	}
}
