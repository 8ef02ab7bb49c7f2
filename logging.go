package fiberloop

import (
	"fmt"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// logEvent is the concrete logiface event type this package logs through.
// Aliased rather than left as a bare type parameter so LoopOption's
// signature ([WithLogger]) doesn't leak the stumpy import to every caller.
type logEvent = stumpy.Event

// newDefaultLogger builds the loop's default structured logger: logiface
// backed by stumpy writing newline-delimited JSON to stderr, matching the
// wiring in logiface-stumpy's own factory and example.
func newDefaultLogger() *logiface.Logger[*logEvent] {
	return logiface.New[*logEvent](
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
	)
}

// logifaceHandle adapts a *logiface.Logger[*logEvent] to the loggerHandle
// interface loop.go consumes, keeping the generic instantiation out of
// loop.go itself.
type logifaceHandle struct {
	logger *logiface.Logger[*logEvent]
}

func (h *logifaceHandle) logInfo(msg string, fields ...any) {
	b := h.logger.Info()
	applyFields(b, fields)
	b.Log(msg)
}

func (h *logifaceHandle) logErr(err error, msg string, fields ...any) {
	b := h.logger.Err().Err(err)
	applyFields(b, fields)
	b.Log(msg)
}

// applyFields walks alternating key/value pairs, dispatching int and uint64
// values to Builder.Int, strings to Builder.Str, and everything else
// through Builder.Any.
func applyFields(b *logiface.Builder[*logEvent], fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		switch v := fields[i+1].(type) {
		case int:
			b.Int(key, v)
		case uint64:
			b.Int(key, int(v))
		case string:
			b.Str(key, v)
		default:
			b.Any(key, v)
		}
	}
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return WrapError("recovered panic", &panicValue{v})
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return fmt.Sprintf("panic: %v", p.v) }
