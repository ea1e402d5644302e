package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures the WebSocket head listener.
type Config struct {
	URL            string        // DA node WebSocket URL (e.g., "wss://rpc.example.com/ws")
	Network        string        // Network name passed through to the handler
	MaxRetries     int           // Max reconnection attempts (default: 25)
	ReconnectDelay time.Duration // Base delay between reconnects (default: 1s)
}

// HeadHandler is called when the DA chain finalizes a new head.
type HeadHandler func(network string, height uint64)

// Listener subscribes to the DA node's finalized-head stream. It is a latency
// optimization only: the sync loop's own polling remains the correctness
// mechanism, the listener just nudges it awake sooner.
type Listener struct {
	config Config
	onHead HeadHandler
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Stats (protected by mu)
	connectedAt   time.Time
	messageCount  uint64
	lastMessageAt time.Time
}

// New creates a new finalized-head listener.
func New(config Config, onHead HeadHandler) *Listener {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 25
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	return &Listener{
		config: config,
		onHead: onHead,
	}
}

// Run starts the listener. It blocks until the context is cancelled or the
// retry budget is exhausted.
func (l *Listener) Run(ctx context.Context) error {
	for attempt := 0; attempt < l.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		slog.Info("connecting to da node",
			"attempt", attempt+1,
			"max_retries", l.config.MaxRetries,
			"url", l.config.URL,
		)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.config.URL, nil)
		if err == nil {
			l.mu.Lock()
			l.conn = conn
			l.connectedAt = time.Now()
			l.messageCount = 0
			l.mu.Unlock()

			slog.Info("websocket connected", "url", l.config.URL)

			err = l.listen(ctx, conn)
			if err == context.Canceled {
				return err
			}

			l.mu.Lock()
			uptime := time.Since(l.connectedAt)
			msgCount := l.messageCount
			if l.conn != nil {
				_ = l.conn.Close()
				l.conn = nil
			}
			l.mu.Unlock()

			slog.Warn("websocket disconnected",
				"err", err,
				"uptime", uptime.Round(time.Second),
				"messages_received", msgCount,
			)

			// Reset attempt counter on successful connection
			attempt = 0
			continue
		}

		slog.Warn("failed to connect to da node",
			"attempt", attempt+1,
			"err", err,
		)

		// Linear backoff
		delay := time.Duration(attempt+1) * l.config.ReconnectDelay
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("websocket retries exhausted after %d attempts", l.config.MaxRetries)
}

// subscribeRequest is the JSON-RPC subscription request for finalized heads.
type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// headNotification is a chain_finalizedHead subscription message.
type headNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

// listen subscribes and consumes finalized-head notifications until the
// connection drops or the context is cancelled.
func (l *Listener) listen(ctx context.Context, conn *websocket.Conn) error {
	sub := subscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "chain_subscribeFinalizedHeads",
		Params:  []any{},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe finalized heads: %w", err)
	}

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("read message: %w", err)
		}

		var note headNotification
		if err := json.Unmarshal(raw, &note); err != nil || note.Method == "" {
			// Subscription confirmation or unrelated message
			continue
		}

		height, err := strconv.ParseUint(strings.TrimPrefix(note.Params.Result.Number, "0x"), 16, 64)
		if err != nil {
			slog.Warn("unparseable head number", "number", note.Params.Result.Number)
			continue
		}

		l.mu.Lock()
		l.messageCount++
		l.lastMessageAt = time.Now()
		l.mu.Unlock()

		slog.Debug("da head finalized", "network", l.config.Network, "height", height)
		l.onHead(l.config.Network, height)
	}
}
