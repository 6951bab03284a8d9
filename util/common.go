package util

import (
	"github.com/fleetdns/querylogd/log"
)

// FatalOnError logs the message with the error and exits the process
func FatalOnError(message string, err error) {
	if err != nil {
		log.Log().Fatal(message, err)
	}
}

// LogOnError logs the message with the error at error level
func LogOnError(message string, err error) {
	if err != nil {
		log.Log().Error(message, err)
	}
}
