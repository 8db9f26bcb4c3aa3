package notify

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
)

// publisher is the subset of *nats.Conn used by NATSSink.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications on "<subject>.<event type>".
// nats.Conn buffers outgoing messages, so Publish does not wait on the server.
type NATSSink struct {
	conn    publisher
	subject string
}

// NewNATSSink publishes on subject through an existing connection.
func NewNATSSink(conn publisher, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(8*1024*1024),
	)
}

// Notify publishes evt.
func (s *NATSSink) Notify(_ context.Context, evt event.Event) error {
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject+"."+evt.Type(), data)
}
