package cryptdev

import (
	"github.com/sirupsen/logrus"
)

// log is the package logger used when a Config carries none
var log = logrus.WithField("component", "cryptdev")

// UseLogger replaces the package logger. It must be called before any
// target or provider is created.
func UseLogger(logger *logrus.Entry) {
	log = logger
}
