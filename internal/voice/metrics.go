package voice

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-robin/internal/voice"

type instruments struct {
	tracer           trace.Tracer
	commands         metric.Int64Counter
	questions        metric.Int64Counter
	dropped          metric.Int64Counter
	recognizerErrors metric.Int64Counter
}

func newInstruments(arbiter *Arbiter, state func() State) (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	commands, err := meter.Int64Counter("robin.voice.commands",
		metric.WithDescription("Commands dispatched, by command and rule"))
	if err != nil {
		return nil, err
	}
	questions, err := meter.Int64Counter("robin.voice.questions",
		metric.WithDescription("Free-form questions routed to chat"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64Counter("robin.voice.dropped",
		metric.WithDescription("Classified transcripts dropped during cooldown"))
	if err != nil {
		return nil, err
	}
	recognizerErrors, err := meter.Int64Counter("robin.voice.recognizer_errors",
		metric.WithDescription("Non-benign recognizer errors surfaced to the user"))
	if err != nil {
		return nil, err
	}
	_, err = meter.Int64ObservableGauge("robin.mic.owner",
		metric.WithDescription("1 for the consumer currently holding the microphone"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			owner := arbiter.Owner()
			for _, c := range []Consumer{ConsumerCommands, ConsumerDetection} {
				var v int64
				if owner == c {
					v = 1
				}
				o.Observe(v, metric.WithAttributes(attribute.String("consumer", string(c))))
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}
	_, err = meter.Int64ObservableGauge("robin.voice.session_state",
		metric.WithDescription("Recognition session state (0 idle, 1 listening, 2 processing, 3 cooldown)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(state()))
			return nil
		}))
	if err != nil {
		return nil, err
	}
	return &instruments{
		tracer:           otel.Tracer(instrumentationName),
		commands:         commands,
		questions:        questions,
		dropped:          dropped,
		recognizerErrors: recognizerErrors,
	}, nil
}
