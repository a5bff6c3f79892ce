// Package logging adapts zerolog to the loggers expected by third-party
// libraries. The process logger itself is set up by glazed.
package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillAdapter routes watermill's logs through zerolog.
type WatermillAdapter struct {
	log zerolog.Logger
}

var _ watermill.LoggerAdapter = WatermillAdapter{}

func NewWatermill(l zerolog.Logger) WatermillAdapter {
	return WatermillAdapter{log: l.With().Str("component", "watermill").Logger()}
}

func withFields(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

func (w WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	withFields(w.log.Error().Err(err), fields).Msg(msg)
}

func (w WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	withFields(w.log.Info(), fields).Msg(msg)
}

func (w WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	withFields(w.log.Debug(), fields).Msg(msg)
}

func (w WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	withFields(w.log.Trace(), fields).Msg(msg)
}

func (w WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return WatermillAdapter{log: ctx.Logger()}
}
