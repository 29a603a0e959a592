// Copyright 2025 James Ross
package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher republishes bus events on subject
// "queue:job:<kind>" per the spec's cross-process bus (§4.6), tagging
// payloads with the emitter's serverId.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to natsURL. subjectPrefix defaults to
// "queue:job:" when empty.
func NewNATSPublisher(natsURL, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to nats: %w", err)
	}
	if subjectPrefix == "" {
		subjectPrefix = "queue:job:"
	}
	return &NATSPublisher{conn: conn, subject: subjectPrefix}, nil
}

// Publish marshals e as JSON and publishes it on "<prefix><kind>".
func (p *NATSPublisher) Publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return p.conn.Publish(p.subject+string(e.Kind), payload)
}

// Close closes the underlying NATS connection without draining it.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

var _ Publisher = (*NATSPublisher)(nil)
