package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// handshakeTimeout bounds the WebSocket upgrade.
	handshakeTimeout = 15 * time.Second
)

// TickHandler is called for each price observation read from the stream.
type TickHandler func(ctx context.Context, token string, price float64, at time.Time) error

// subscribeCommand is the provider's subscription envelope.
type subscribeCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Tokens  []string `json:"tokens"`
}

// priceTick is a single message on the provider's price channel.
type priceTick struct {
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// PriceFeed connects to the provider's price WebSocket, subscribes to the
// configured tokens, and invokes the handler on each tick. It reconnects
// with exponential backoff on disconnect.
type PriceFeed struct {
	wsURL     string
	tokens    []string
	onTick    TickHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceFeed creates a feed that will subscribe to the given tokens.
func NewPriceFeed(wsURL string, tokens []string, onTick TickHandler, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		tokens: tokens,
		onTick: onTick,
		logger: logger.With(slog.String("component", "price_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects, subscribes to the configured tokens, and runs until ctx is
// cancelled or Close is called. Reconnects with backoff on disconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.tokens) == 0 {
		f.logger.Info("no tokens to watch, feed idle")
		return nil
	}
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		started := time.Now()
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A session that outlived the pong window was healthy; start the
		// backoff over instead of compounding old failures.
		if time.Since(started) > pongWait {
			delay = reconnectDelay
		}
		f.logger.Warn("price stream disconnected, reconnecting",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops.
func (f *PriceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	sub := subscribeCommand{Type: "subscribe", Channel: "prices", Tokens: f.tokens}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price stream subscribed", slog.Int("tokens", len(f.tokens)))

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				// Unblocks the read loop below.
				conn.Close()
				return
			case <-f.done:
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, data)
	}
}

// handleMessage parses one frame and forwards it to the tick handler.
// Frames that are not price ticks (subscribe acks, heartbeats) carry no
// token and are dropped.
func (f *PriceFeed) handleMessage(ctx context.Context, data []byte) {
	var tick priceTick
	if err := json.Unmarshal(data, &tick); err != nil {
		return
	}
	if tick.Token == "" || tick.Price <= 0 {
		return
	}
	at := time.Now().UTC()
	if tick.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, tick.Timestamp); err == nil {
			at = parsed
		}
	}
	if f.onTick == nil {
		return
	}
	if err := f.onTick(ctx, tick.Token, tick.Price, at); err != nil {
		f.logger.Warn("price tick rejected",
			slog.String("token", tick.Token),
			slog.String("error", err.Error()))
	}
}

// Close stops the feed.
func (f *PriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
