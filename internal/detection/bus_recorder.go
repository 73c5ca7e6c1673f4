package detection

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-robin/internal/bus"
	"github.com/loqalabs/loqa-robin/internal/protocol"
)

// BusRecorder drives the app's recorder over request/reply subjects.
type BusRecorder struct {
	bus *bus.Client
}

func NewBusRecorder(busClient *bus.Client) *BusRecorder {
	return &BusRecorder{bus: busClient}
}

func (r *BusRecorder) StartRecording(ctx context.Context) error {
	return r.request(ctx, protocol.SubjectRecordStart, protocol.RecordControl{})
}

func (r *BusRecorder) StopAndUpload(ctx context.Context) error {
	return r.request(ctx, protocol.SubjectRecordStop, protocol.RecordControl{Upload: true})
}

func (r *BusRecorder) request(ctx context.Context, subject string, ctl protocol.RecordControl) error {
	var ack protocol.RecordAck
	if err := r.bus.RequestJSON(ctx, subject, ctl, &ack); err != nil {
		return err
	}
	if !ack.OK {
		msg := ack.Error
		if msg == "" {
			msg = "rejected"
		}
		return fmt.Errorf("%s: %w", subject, errors.New(msg))
	}
	return nil
}
