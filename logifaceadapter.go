// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"github.com/joeycumines/logiface"
)

// logifaceEvent is the [logiface.Event] implementation backing
// [NewLogifaceLogger]: every field-builder call on the resulting
// logiface.Logger accumulates into an asyncrt [LogEntry], which is handed
// to the wrapped [Logger] on Write.
type logifaceEvent struct {
	logiface.UnimplementedEvent
	level logiface.Level
	entry LogEntry
}

func (e *logifaceEvent) Level() logiface.Level { return e.level }

func (e *logifaceEvent) AddField(key string, val any) {
	e.ensureContext()
	e.entry.Context[key] = val
}

func (e *logifaceEvent) AddMessage(msg string) bool {
	e.entry.Message = msg
	return true
}

func (e *logifaceEvent) AddError(err error) bool {
	e.entry.Err = err
	return true
}

func (e *logifaceEvent) AddString(key string, val string) bool {
	e.ensureContext()
	e.entry.Context[key] = val
	return true
}

func (e *logifaceEvent) AddInt(key string, val int) bool {
	e.ensureContext()
	e.entry.Context[key] = val
	return true
}

func (e *logifaceEvent) ensureContext() {
	if e.entry.Context == nil {
		e.entry.Context = make(map[string]interface{})
	}
}

// logifaceLevel maps a logiface syslog-style level onto this runtime's
// four-level taxonomy. Emergency..Error collapse to LevelError (this
// runtime doesn't distinguish panic/fatal severities from plain errors),
// Warning/Notice to LevelWarn, Informational to LevelInfo, Debug/Trace to
// LevelDebug.
func logifaceLevel(l logiface.Level) LogLevel {
	switch {
	case l <= logiface.LevelError:
		return LevelError
	case l <= logiface.LevelNotice:
		return LevelWarn
	case l <= logiface.LevelInformational:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// asyncLevel is the inverse of logifaceLevel, used by highestEnabledLevel
// to translate the sink's most verbose enabled level into the
// logiface.Level the front-end gates on.
func asyncLevel(l LogLevel) logiface.Level {
	switch l {
	case LevelError:
		return logiface.LevelError
	case LevelWarn:
		return logiface.LevelWarning
	case LevelInfo:
		return logiface.LevelInformational
	default:
		return logiface.LevelDebug
	}
}

// NewLogifaceLogger builds a [logiface.Logger] whose Write stage forwards
// every event to sink as an asyncrt [LogEntry], and whose minimum level is
// governed by sink.IsEnabled. This lets callers use logiface's fluent
// Builder/Context API (Str/Int/Err/...) while still routing output through
// any asyncrt Logger — [DefaultLogger], [WriterLogger], or a custom one —
// rather than requiring a second, independent logging backend.
//
// category is attached to every entry as LogEntry.Category.
func NewLogifaceLogger(sink Logger, category string) *logiface.Logger[*logifaceEvent] {
	return logiface.New[*logifaceEvent](
		logiface.WithLevel[*logifaceEvent](highestEnabledLevel(sink)),
		logiface.WithEventFactory[*logifaceEvent](logiface.EventFactoryFunc[*logifaceEvent](func(level logiface.Level) *logifaceEvent {
			return &logifaceEvent{
				level: level,
				entry: LogEntry{
					Level:    logifaceLevel(level),
					Category: category,
				},
			}
		})),
		logiface.WithWriter[*logifaceEvent](logiface.WriterFunc[*logifaceEvent](func(event *logifaceEvent) error {
			sink.Log(event.entry)
			return nil
		})),
	)
}

// highestEnabledLevel picks the most verbose logiface.Level for which sink
// reports IsEnabled, so the logiface front-end's own level gate matches the
// sink's rather than silently building events the sink will discard anyway
// (or, worse, gating more aggressively than the sink expects).
func highestEnabledLevel(sink Logger) logiface.Level {
	for _, lvl := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if sink.IsEnabled(lvl) {
			return asyncLevel(lvl)
		}
	}
	return logiface.LevelDisabled
}
