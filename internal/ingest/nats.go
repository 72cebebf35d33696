package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Connect dials the NATS server at url.
func Connect(url string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("narrator"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info().Str("url", url).Msg("connected to NATS")
	return conn, nil
}

// Subscriber feeds chunk messages from a NATS subject into a Sink.
type Subscriber struct {
	sub  *nats.Subscription
	sink Sink
	log  zerolog.Logger
}

// Subscribe starts consuming subject. Requests carrying a reply subject are
// answered with an Ack.
func Subscribe(conn *nats.Conn, subject string, sink Sink, log zerolog.Logger) (*Subscriber, error) {
	s := &Subscriber{sink: sink, log: log}
	sub, err := conn.Subscribe(subject, s.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	log.Info().Str("subject", subject).Msg("listening for chunks")
	return s, nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var m ChunkMessage
	var err error
	if err = json.Unmarshal(msg.Data, &m); err != nil {
		err = fmt.Errorf("decode chunk message: %w", err)
		m.Index = -1
	} else {
		err = Dispatch(s.sink, m)
	}
	if err != nil {
		s.log.Warn().Err(err).Int("index", m.Index).Msg("chunk rejected")
	}

	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(ack(m.Index, err))
	if rerr := msg.Respond(data); rerr != nil {
		s.log.Warn().Err(rerr).Msg("failed to ack chunk")
	}
}

// Close drains the subscription.
func (s *Subscriber) Close() error {
	if s == nil || s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}
