package kafka

import (
	"context"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook wraps message handling. BeforeHandle may rewrite the context
// or payload; an error from it skips the handler and counts as a failed
// attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// HookFuncs adapts plain functions to ConsumerHook; nil fields are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, data, err)
	}
}

type ctxKey string

const (
	ctxStartTime ctxKey = "kafka_hook_start_time"
	ctxTraceID   ctxKey = "kafka_hook_trace_id"
)

// TraceIDFrom returns the trace id a LoggingHook put on ctx.
func TraceIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxTraceID).(string)
	return s
}

// LoggingHook stamps the trace_id header and start time on the context and
// logs slow or failed handling.
func LoggingHook(l *applogger.Logger, slow time.Duration) ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = context.WithValue(ctx, ctxStartTime, time.Now())
			for _, h := range km.Headers {
				if h.Key == "trace_id" && len(h.Value) > 0 {
					ctx = context.WithValue(ctx, ctxTraceID, string(h.Value))
				}
			}
			return ctx, km, data, nil
		},
		After: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			start, ok := ctx.Value(ctxStartTime).(time.Time)
			if !ok {
				return
			}
			dur := time.Since(start)
			switch {
			case err != nil:
				l.Warn("kafka handle failed",
					applogger.String("topic", topic),
					applogger.Int("partition", km.Partition),
					applogger.String("trace_id", TraceIDFrom(ctx)),
					applogger.Error(err),
				)
			case slow > 0 && dur > slow:
				l.Warn("kafka handle slow",
					applogger.String("topic", topic),
					applogger.Duration("duration_ms", dur),
				)
			}
		},
	}
}
