package cache

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// BadgerAdapter routes badger's printf-style logging into zerolog.
type BadgerAdapter struct {
	logger zerolog.Logger
}

func NewBadgerAdapter(logger zerolog.Logger) *BadgerAdapter {
	return &BadgerAdapter{
		logger: logger.With().Str("component", "badger").Logger(),
	}
}

func (a *BadgerAdapter) msg(event *zerolog.Event, format string, args ...interface{}) {
	// badger terminates most lines with a newline
	event.Msg(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

// Errorf logs an error message.
func (a *BadgerAdapter) Errorf(format string, args ...interface{}) {
	a.msg(a.logger.Error(), format, args...)
}

// Warningf logs a warning message.
func (a *BadgerAdapter) Warningf(format string, args ...interface{}) {
	a.msg(a.logger.Warn(), format, args...)
}

// Infof logs badger's info output at debug level; it is chatty on startup.
func (a *BadgerAdapter) Infof(format string, args ...interface{}) {
	a.msg(a.logger.Debug(), format, args...)
}

// Debugf logs a debug message.
func (a *BadgerAdapter) Debugf(format string, args ...interface{}) {
	a.msg(a.logger.Trace(), format, args...)
}
