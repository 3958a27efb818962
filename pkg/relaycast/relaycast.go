// Package relaycast implements RelaycastLink: the outbound websocket
// connection to the cloud relay that lets agents and humans outside this
// machine exchange messages with locally wrapped agents.
package relaycast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	initialBackoff    = time.Second
	maxBackoff        = 30 * time.Second
	outboxCapacity    = 256
)

// InboundHandler is invoked once per frame received from Relaycast.
type InboundHandler func(frame types.EventFrame)

// Link manages one outbound websocket connection to Relaycast, with
// automatic reconnect on disconnect using capped exponential backoff. The
// supervisor creates no Link when no URL is configured. A Link with an
// empty URL reports !Enabled, and its Run and Publish return without
// doing anything; Token is not consulted for this.
type Link struct {
	URL   string
	Token string

	OnMessage     InboundHandler
	OnStateChange func(connected bool)

	mu      sync.Mutex
	conn    *websocket.Conn
	outbox  chan types.EventFrame
	stopCh  chan struct{}
	stopped chan struct{}
}

// New creates a Link. Call Run to start connecting.
func New(url, token string, onMessage InboundHandler) *Link {
	return &Link{
		URL:       url,
		Token:     token,
		OnMessage: onMessage,
		outbox:    make(chan types.EventFrame, outboxCapacity),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Enabled reports whether this Link was configured with a URL at all.
func (l *Link) Enabled() bool {
	return l.URL != ""
}

// Run connects and serves until ctx is cancelled or Stop is called,
// reconnecting with exponential backoff on every disconnect.
func (l *Link) Run(ctx context.Context) {
	defer close(l.stopped)
	if !l.Enabled() {
		return
	}

	delay := initialBackoff
	for {
		connected, err := l.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-l.stopCh:
			return
		default:
		}

		if connected {
			delay = initialBackoff
		}
		metrics.RelaycastReconnectsTotal.Inc()
		log.Logger.Warn().Err(err).Dur("retry_in", delay).Msg("relaycast link down")

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// Stop halts the reconnect loop.
func (l *Link) Stop() {
	close(l.stopCh)
	<-l.stopped
}

func (l *Link) connectAndServe(ctx context.Context) (connected bool, err error) {
	opts := &websocket.DialOptions{HTTPHeader: make(map[string][]string)}
	opts.HTTPHeader.Set("Authorization", "Bearer "+l.Token)

	conn, _, dialErr := websocket.Dial(ctx, l.URL, opts)
	if dialErr != nil {
		return false, fmt.Errorf("dial relaycast: %w", dialErr)
	}
	defer conn.CloseNow()

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	connected = true
	metrics.RelaycastConnected.Set(1)
	l.notifyState(true)
	defer func() {
		metrics.RelaycastConnected.Set(0)
		l.notifyState(false)
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
	}()

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go l.heartbeatLoop(hbCtx)

	writerCtx, writerCancel := context.WithCancel(ctx)
	defer writerCancel()
	go l.writerLoop(writerCtx, conn)

	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			return connected, fmt.Errorf("read: %w", readErr)
		}

		var frame types.EventFrame
		if jsonErr := json.Unmarshal(data, &frame); jsonErr != nil {
			log.Logger.Warn().Err(jsonErr).Msg("relaycast: malformed frame")
			continue
		}
		if l.OnMessage != nil {
			l.OnMessage(frame)
		}
	}
}

// Publish enqueues frame for outbound delivery. If the outbox is full
// (Relaycast unreachable or backed up), the oldest queued frame is
// dropped in favor of the new one, matching the at-most-once, no-unbounded-
// buffering policy for this link.
func (l *Link) Publish(frame types.EventFrame) {
	if !l.Enabled() {
		return
	}
	select {
	case l.outbox <- frame:
		return
	default:
	}

	select {
	case <-l.outbox:
		metrics.RelaycastDroppedTotal.Inc()
	default:
	}
	select {
	case l.outbox <- frame:
	default:
		metrics.RelaycastDroppedTotal.Inc()
	}
}

func (l *Link) writerLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-l.outbox:
			timer := metrics.NewTimer()
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			timer.ObserveDuration(metrics.RelaycastPublishDuration)
			if err != nil {
				log.Logger.Warn().Err(err).Msg("relaycast: publish failed")
				return
			}
		}
	}
}

func (l *Link) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Publish(types.EventFrame{Kind: "heartbeat"})
		}
	}
}

func (l *Link) notifyState(connected bool) {
	if l.OnStateChange != nil {
		l.OnStateChange(connected)
	}
}
