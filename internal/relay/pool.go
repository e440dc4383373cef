package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"bloom/internal/domain"
)

const (
	pingInterval   = 30 * time.Second
	reconnectDelay = 2 * time.Second
	dialTimeout    = 10 * time.Second
)

// Pool implements domain.Transport over persistent websocket connections.
type Pool struct {
	log    *zap.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conns   map[string]*relayConn
	subs    map[string]*subscription
	nextSub int
	closed  bool
}

type subscription struct {
	id      string
	relays  []string
	filters nostr.Filters
	handler func(*nostr.Event)
}

type relayConn struct {
	url  string
	pool *Pool

	mu     sync.Mutex // serializes writes
	ws     *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewPool returns an empty Pool; connections are dialed on first use.
func NewPool(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		log:    log,
		dialer: websocket.DefaultDialer,
		conns:  make(map[string]*relayConn),
		subs:   make(map[string]*subscription),
	}
}

// Publish sends the event to every relay and completes once at least one
// accepted the frame. With no relays it fails with domain.ErrNoRelays;
// when all relays fail the errors are aggregated.
func (p *Pool) Publish(ctx context.Context, event *nostr.Event, relays []string) error {
	targets := domain.NormalizeRelayURLs(relays)
	if len(targets) == 0 {
		return domain.ErrNoRelays
	}

	var errs []error
	accepted := 0
	for _, url := range targets {
		c, err := p.ensureConn(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("relay-not-connected: %s: %v", url, err))
			continue
		}
		if err := c.writeJSON([]any{"EVENT", event}); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", url, err))
			continue
		}
		accepted++
	}
	if accepted > 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Subscribe opens one logical subscription across the given relays and
// routes every matching event to handler. The returned function closes it.
// With no relays it warns and returns a no-op unsubscribe.
func (p *Pool) Subscribe(ctx context.Context, relays []string, filters nostr.Filters, handler func(*nostr.Event)) (func(), error) {
	targets := domain.NormalizeRelayURLs(relays)
	if len(targets) == 0 {
		p.log.Warn("subscribe requested with no relays")
		return func() {}, nil
	}

	p.mu.Lock()
	p.nextSub++
	sub := &subscription{
		id:      fmt.Sprintf("bloom-%d", p.nextSub),
		relays:  targets,
		filters: filters,
		handler: handler,
	}
	p.subs[sub.id] = sub
	p.mu.Unlock()

	for _, url := range targets {
		c, err := p.ensureConn(ctx, url)
		if err != nil {
			p.log.Warn("relay unreachable for subscription", zap.String("relay", url), zap.Error(err))
			continue
		}
		if err := c.writeJSON(subReq(sub)); err != nil {
			p.log.Warn("subscription request failed", zap.String("relay", url), zap.Error(err))
		}
	}

	return func() {
		p.mu.Lock()
		delete(p.subs, sub.id)
		conns := make([]*relayConn, 0, len(sub.relays))
		for _, url := range sub.relays {
			if c, ok := p.conns[url]; ok {
				conns = append(conns, c)
			}
		}
		p.mu.Unlock()
		for _, c := range conns {
			_ = c.writeJSON([]any{"CLOSE", sub.id})
		}
	}, nil
}

// Close tears down every connection. Outstanding subscriptions stop
// delivering; the pool cannot be reused afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	conns := make([]*relayConn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*relayConn)
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func subReq(sub *subscription) []any {
	frame := []any{"REQ", sub.id}
	for _, f := range sub.filters {
		frame = append(frame, f)
	}
	return frame
}

func (p *Pool) ensureConn(ctx context.Context, url string) (*relayConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("pool closed")
	}
	if c, ok := p.conns[url]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ws, _, err := p.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &relayConn{url: url, pool: p, ws: ws, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		ws.Close()
		return nil, errors.New("pool closed")
	}
	if existing, ok := p.conns[url]; ok {
		// Lost the dial race; keep the first connection.
		p.mu.Unlock()
		ws.Close()
		return existing, nil
	}
	p.conns[url] = c
	p.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *relayConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	return c.ws.WriteJSON(v)
}

func (c *relayConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.ws.Close()
	c.mu.Unlock()
}

func (c *relayConn) readLoop() {
	defer c.pool.dropConn(c)

	for {
		var frame []json.RawMessage
		if err := c.ws.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				c.pool.log.Debug("relay connection lost", zap.String("relay", c.url), zap.Error(err))
			}
			return
		}
		if len(frame) < 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(frame[0], &kind); err != nil {
			continue
		}
		switch kind {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var subID string
			if err := json.Unmarshal(frame[1], &subID); err != nil {
				continue
			}
			var evt nostr.Event
			if err := json.Unmarshal(frame[2], &evt); err != nil {
				c.pool.log.Debug("undecodable event from relay", zap.String("relay", c.url), zap.Error(err))
				continue
			}
			c.pool.dispatch(subID, &evt)
		case "NOTICE":
			c.pool.log.Debug("relay notice", zap.String("relay", c.url), zap.ByteString("notice", frame[1]))
		case "CLOSED":
			var subID string
			if err := json.Unmarshal(frame[1], &subID); err == nil {
				c.pool.log.Debug("subscription closed by relay", zap.String("relay", c.url), zap.String("sub", subID))
			}
		case "OK", "EOSE":
			// Publish acks and end-of-stored-events need no action.
		}
	}
}

func (c *relayConn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *Pool) dispatch(subID string, evt *nostr.Event) {
	p.mu.Lock()
	sub, ok := p.subs[subID]
	p.mu.Unlock()
	if !ok {
		return
	}
	sub.handler(evt)
}

// dropConn removes a dead connection and, when subscriptions still target
// its relay, schedules a redial that replays their REQ frames.
func (p *Pool) dropConn(c *relayConn) {
	c.close()

	p.mu.Lock()
	if p.conns[c.url] == c {
		delete(p.conns, c.url)
	}
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	time.AfterFunc(reconnectDelay, func() { p.redial(c.url) })
}

func (p *Pool) redial(url string) {
	p.mu.Lock()
	var pending []*subscription
	for _, sub := range p.subs {
		for _, r := range sub.relays {
			if r == url {
				pending = append(pending, sub)
				break
			}
		}
	}
	closed := p.closed
	p.mu.Unlock()
	if closed || len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	c, err := p.ensureConn(ctx, url)
	if err != nil {
		p.log.Debug("relay redial failed", zap.String("relay", url), zap.Error(err))
		return
	}
	for _, sub := range pending {
		if err := c.writeJSON(subReq(sub)); err != nil {
			p.log.Debug("subscription replay failed", zap.String("relay", url), zap.Error(err))
		}
	}
}

var _ domain.Transport = (*Pool)(nil)
