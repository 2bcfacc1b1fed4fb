package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the root of the subjects execution events go to.
const SubjectPrefix = "codemother.exec"

// Publisher is the part of *nats.Conn the forwarder uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder publishes execution events to
// codemother.exec.<executionId>.events.
type NATSForwarder struct {
	pub    Publisher
	conn   *nats.Conn
	logger *Logger
}

// ConnectNATS dials url and returns a forwarder owning the connection.
func ConnectNATS(url string, logger *Logger) (*NATSForwarder, error) {
	nc, err := nats.Connect(url,
		nats.Name("codemother"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	f := NewNATSForwarder(nc, logger)
	f.conn = nc
	return f, nil
}

// NewNATSForwarder forwards through pub.
func NewNATSForwarder(pub Publisher, logger *Logger) *NATSForwarder {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &NATSForwarder{pub: pub, logger: logger.NewComponentLogger("telemetry.nats")}
}

// EventSubject returns the subject events of an execution are published on.
// NATS tokens cannot contain '.', '*', '>' or whitespace.
func EventSubject(executionID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, executionID)
	return SubjectPrefix + "." + token + ".events"
}

// Forward publishes one event. Events without an execution ID are skipped.
func (f *NATSForwarder) Forward(event Event) {
	if event.ExecutionID == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.WithError(err).Warn("failed to encode event")
		return
	}
	if err := f.pub.Publish(EventSubject(event.ExecutionID), data); err != nil {
		f.logger.WithError(err).WithField("type", event.Type).Warn("failed to forward event")
	}
}

// Attach subscribes the forwarder to every execution event of ep.
func (f *NATSForwarder) Attach(ep *EventPublisher) {
	ep.Subscribe(f.Forward, func(e Event) bool { return e.ExecutionID != "" })
}

// Close drains the connection when the forwarder owns one.
func (f *NATSForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
