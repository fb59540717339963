// Package push delivers alert notifications to the guardian console. The
// console keeps one websocket subscription to the push gateway and receives
// the same data payload FCM carries to the phones.
package push

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Alert-bearing notification types. Everything else on the channel
// (acknowledgements, safety status) is ignored by the listener.
const (
	TypeSOSEvent        = "SOS_EVENT"
	TypePanicMode       = "PANIC_MODE"
	TypeMotionDetection = "MOTION_DETECTION"
)

// Notification is one received alert push: the alert id plus the partial
// record carried in the payload, usable as a tracking seed before the full
// fetch completes.
type Notification struct {
	Type    string
	AlertID int64
	Seed    *entities.AlertRecord
}

// Config holds configuration for the push listener.
type Config struct {
	// URL is the push gateway websocket endpoint, e.g. "wss://push.wardn.app/ws".
	URL string
	// Token authenticates the subscription.
	Token string
}

// Listener maintains the websocket subscription, reconnecting with backoff
// until its context is cancelled.
type Listener struct {
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger

	notifications chan Notification
}

// NewListener creates a push listener.
func NewListener(cfg Config, clk clock.Clock, logger *zap.Logger) *Listener {
	return &Listener{
		cfg:           cfg,
		clk:           clk,
		logger:        logger,
		notifications: make(chan Notification, 16),
	}
}

// Notifications returns the stream of received alert pushes. Closed when
// Run returns.
func (l *Listener) Notifications() <-chan Notification {
	return l.notifications
}

// Run connects and reads until ctx is cancelled. Connection loss is not an
// error; the listener backs off and redials.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.notifications)

	backoff := reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, err := l.dial(ctx)
		if err != nil {
			l.logger.Warn("push gateway dial failed",
				zap.Error(err), zap.Duration("retryIn", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-l.clk.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		backoff = reconnectMin
		l.logger.Info("push subscription established")
		l.readLoop(ctx, conn)
		conn.Close()
	}
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(l.cfg.URL)
	if err != nil {
		return nil, err
	}
	query := endpoint.Query()
	query.Set("token", l.cfg.Token)
	endpoint.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	return conn, err
}

// readLoop pumps messages until the connection drops or ctx is cancelled.
func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	// Ping pump. Also watches ctx so a cancelled listener unblocks the read
	// below by closing the connection.
	go func() {
		ticker := l.clk.Ticker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("push subscription dropped", zap.Error(err))
			}
			return
		}
		if notification, ok := decodeNotification(message, l.logger); ok {
			select {
			case l.notifications <- notification:
			default:
				l.logger.Warn("notification channel full, dropping push",
					zap.Int64("alertID", notification.AlertID))
			}
		}
	}
}

// pushPayload mirrors the FCM data payload: all values arrive as strings.
type pushPayload struct {
	Type            string `json:"type"`
	EventID         string `json:"event_id"`
	TriggerType     string `json:"trigger_type"`
	DependentName   string `json:"dependent_name"`
	EventType       string `json:"event_type"`
	Lat             string `json:"lat"`
	Lng             string `json:"lng"`
	VoiceMessageURL string `json:"voice_message_url"`
}

func decodeNotification(message []byte, logger *zap.Logger) (Notification, bool) {
	var payload pushPayload
	if err := json.Unmarshal(message, &payload); err != nil {
		logger.Debug("unparseable push payload", zap.Error(err))
		return Notification{}, false
	}

	switch payload.Type {
	case TypeSOSEvent, TypePanicMode, TypeMotionDetection:
	default:
		return Notification{}, false
	}

	alertID, err := strconv.ParseInt(payload.EventID, 10, 64)
	if err != nil {
		logger.Warn("push payload without usable event id", zap.String("eventID", payload.EventID))
		return Notification{}, false
	}

	seed := &entities.AlertRecord{
		ID:              alertID,
		DependentName:   payload.DependentName,
		TriggerKind:     entities.ParseTriggerKind(payload.TriggerType),
		EventType:       payload.EventType,
		VoiceMessageURL: payload.VoiceMessageURL,
	}
	if lat, latErr := strconv.ParseFloat(payload.Lat, 64); latErr == nil {
		if lng, lngErr := strconv.ParseFloat(payload.Lng, 64); lngErr == nil {
			seed.TriggerLocation = &entities.GeoPoint{Latitude: lat, Longitude: lng}
		}
	}
	return Notification{Type: payload.Type, AlertID: alertID, Seed: seed}, true
}
