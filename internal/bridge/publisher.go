// Package bridge forwards bus traffic to external brokers so other
// systems (dashboards, recorders, downstream analytics) can consume
// events without linking against this process.
package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/sentry.report/internal/monitoring"
)

// Publisher delivers one serialized event to an external broker.
type Publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSConfig configures the NATS leg of the bridge.
type NATSConfig struct {
	// URL of an external server. Ignored when Embedded is set.
	URL string
	// Embedded starts an in-process server on Port instead of dialing
	// out. Port 0 means the default 4222; -1 picks a random free port.
	Embedded bool
	Port     int
	// SubjectPrefix is prepended to the event type, default "sentry".
	SubjectPrefix string
}

// NATSPublisher forwards events to a NATS server, optionally one
// embedded in this process.
type NATSPublisher struct {
	srv    *server.Server
	conn   *nats.Conn
	prefix string
	url    string
}

// NewNATSPublisher connects to (or starts) the configured server.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "sentry"
	}

	p := &NATSPublisher{prefix: cfg.SubjectPrefix}
	url := cfg.URL

	if cfg.Embedded {
		port := cfg.Port
		if port == 0 {
			port = 4222
		}
		srv, err := server.NewServer(&server.Options{
			Host:   "0.0.0.0",
			Port:   port,
			NoLog:  true,
			NoSigs: true,
		})
		if err != nil {
			return nil, fmt.Errorf("bridge: embedded nats server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			srv.Shutdown()
			return nil, fmt.Errorf("bridge: embedded nats server not ready after 5s")
		}
		p.srv = srv
		url = srv.ClientURL()
		monitoring.Logf("bridge: embedded nats server listening at %s", url)
	}

	conn, err := nats.Connect(url,
		nats.Name("sentry-bridge"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		if p.srv != nil {
			p.srv.Shutdown()
		}
		return nil, fmt.Errorf("bridge: connect nats %s: %w", url, err)
	}
	p.conn = conn
	p.url = url
	return p, nil
}

// Addr returns the client URL of the server this publisher talks to.
func (p *NATSPublisher) Addr() string { return p.url }

// Publish sends data on "<prefix>.<subject>".
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	if err := p.conn.Publish(p.prefix+"."+subject, data); err != nil {
		return fmt.Errorf("bridge: nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drops the connection and shuts down the embedded server if one
// was started.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// RedisConfig configures the redis leg of the bridge.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ChannelPrefix is prepended to the event type, default "sentry".
	ChannelPrefix string
	// PublishTimeout bounds each publish call, default 5s.
	PublishTimeout time.Duration
}

// RedisPublisher forwards events over redis pub/sub.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisPublisher connects and pings the configured server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "sentry"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("bridge: redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisPublisher{client: client, prefix: cfg.ChannelPrefix, timeout: cfg.PublishTimeout}, nil
}

// Publish sends data on channel "<prefix>.<subject>".
func (p *RedisPublisher) Publish(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.prefix+"."+subject, data).Err(); err != nil {
		return fmt.Errorf("bridge: redis publish %s: %w", subject, err)
	}
	return nil
}

func (p *RedisPublisher) Close() {
	if err := p.client.Close(); err != nil {
		monitoring.Logf("bridge: redis close: %v", err)
	}
}
