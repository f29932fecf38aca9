package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/inactu/inactu-web/core/infra/config"
	"github.com/inactu/inactu-web/core/infra/logging"
	"github.com/nats-io/nats.go"
)

// Subjects published by the web gateway.
const (
	SubjectAudit         = "inactu.gateway.audit"
	SubjectContextStatus = "inactu.contexts.status"
	SubjectPackageEvents = "inactu.packages.events"

	envUseJetStream = "NATS_USE_JETSTREAM"
	envJSMaxAge     = "NATS_JS_MAX_AGE"

	defaultMaxAge = 7 * 24 * time.Hour
	streamName    = "INACTU_WEB"
)

var (
	errNilBus       = errors.New("nats bus not initialized")
	errEmptySubject = errors.New("empty subject")
)

// Publisher is the part of the bus that request handlers depend on.
type Publisher interface {
	Publish(subject string, payload any) error
}

// NatsBus wraps a NATS connection that carries JSON payloads.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
}

// NewNatsBus dials NATS at url. TLS settings come from NATS_TLS_* variables.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("inactu-web"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	tlsCfg, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	b := &NatsBus{nc: nc}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close drains pending publishes and closes the connection.
func (b *NatsBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
}

// Publish JSON-encodes payload and sends it on subject.
func (b *NatsBus) Publish(subject string, payload any) error {
	return b.PublishWithID(subject, "", payload)
}

// PublishWithID is Publish with a JetStream de-duplication id. The id is
// ignored on core NATS.
func (b *NatsBus) PublishWithID(subject, msgID string, payload any) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	data, err := encode(subject, payload)
	if err != nil {
		return err
	}
	if b.jsEnabled {
		var opts []nats.PubOpt
		if id := strings.TrimSpace(msgID); id != "" {
			opts = append(opts, nats.MsgId(subject+":"+id))
		}
		_, err = b.js.Publish(subject, data, opts...)
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe delivers raw payloads on subject to handler. Handler errors are
// logged; messages are never redelivered.
func (b *NatsBus) Subscribe(subject, queue string, handler func([]byte) error) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if strings.TrimSpace(subject) == "" {
		return errEmptySubject
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	cb := func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			logging.Error("bus", "handler error", "subject", msg.Subject, "error", err)
		}
	}
	var err error
	if queue == "" {
		_, err = b.nc.Subscribe(subject, cb)
	} else {
		_, err = b.nc.QueueSubscribe(subject, queue, cb)
	}
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func encode(subject string, payload any) ([]byte, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errEmptySubject
	}
	switch v := payload.(type) {
	case nil:
		return nil, errors.New("nil payload")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil || !config.ParseBool(os.Getenv(envUseJetStream)) {
		return
	}
	maxAge := defaultMaxAge
	if v := strings.TrimSpace(os.Getenv(envJSMaxAge)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			maxAge = d
		}
	}
	js, err := b.nc.JetStream()
	if err != nil {
		logging.Warn("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Warn("bus", "jetstream not available", "error", err)
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"inactu.>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		if _, infoErr := js.StreamInfo(streamName); infoErr != nil {
			logging.Error("bus", "jetstream ensure stream failed", "stream", streamName, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	logging.Info("bus", "jetstream enabled", "stream", streamName, "max_age", maxAge)
}
