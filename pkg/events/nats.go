package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/racepool/engine/pkg/common/logger"
)

// NATSEmitter publishes engine events as JSON onto a single subject
// (<prefix>.round). All event types share the subject; consumers
// dispatch on the type tag.
type NATSEmitter struct {
	conn    *nats.Conn
	subject string
}

func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1), // retry forever
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url, opts...)
}

func NewNATSEmitter(conn *nats.Conn, subjectPrefix string) *NATSEmitter {
	if subjectPrefix == "" {
		subjectPrefix = "engine"
	}
	return &NATSEmitter{
		conn:    conn,
		subject: subjectPrefix + ".round",
	}
}

func (e *NATSEmitter) publish(t Type, payload any) error {
	data, err := json.Marshal(newEvent(t, payload))
	if err != nil {
		return err
	}
	return e.conn.Publish(e.subject, data)
}

func (e *NATSEmitter) EmitNewRound(p NewRoundPayload) error   { return e.publish(TypeNewRound, p) }
func (e *NATSEmitter) EmitRaceStart(p RaceStartPayload) error { return e.publish(TypeRaceStart, p) }
func (e *NATSEmitter) EmitRaceEnd(p RaceEndPayload) error     { return e.publish(TypeRaceEnd, p) }
func (e *NATSEmitter) EmitError(p ErrorPayload) error         { return e.publish(TypeError, p) }

func (e *NATSEmitter) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}
