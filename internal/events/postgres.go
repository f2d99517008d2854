package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const DefaultPGChannel = "releasedesk_changes"

// PGNotifier publishes changes with pg_notify so every listener on the
// database receives them.
type PGNotifier struct {
	DB      *sql.DB
	Channel string
}

func (n PGNotifier) channel() string {
	if n.Channel == "" {
		return DefaultPGChannel
	}
	return n.Channel
}

func (n PGNotifier) Publish(ctx context.Context, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.channel(), string(data)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// PGListener forwards LISTEN notifications to a local publisher. After a
// reconnect it emits a resync per collection since notifications may have
// been missed.
type PGListener struct {
	DSN         string
	Channel     string
	Collections []string
	Local       Publisher
	Logger      *zap.Logger
}

func (l *PGListener) logger() *zap.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return zap.NewNop()
}

func (l *PGListener) Start(ctx context.Context) (stop func(), err error) {
	channel := l.Channel
	if channel == "" {
		channel = DefaultPGChannel
	}
	log := l.logger()
	listener := pq.NewListener(l.DSN, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("pg listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					l.resync(ctx)
					continue
				}
				var c Change
				if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
					log.Warn("pg: bad change payload", zap.Error(err))
					continue
				}
				if err := l.Local.Publish(ctx, c); err != nil {
					log.Warn("pg: local publish failed", zap.Error(err))
				}
			case <-time.After(90 * time.Second):
				go func() {
					if err := listener.Ping(); err != nil {
						log.Warn("pg listener ping", zap.Error(err))
					}
				}()
			}
		}
	}()
	return func() {
		cancel()
		<-done
		_ = listener.Close()
	}, nil
}

func (l *PGListener) resync(ctx context.Context) {
	at := time.Now().UTC().Format(time.RFC3339)
	for _, col := range l.Collections {
		_ = l.Local.Publish(ctx, Change{Collection: col, Op: OpResync, At: at})
	}
}
