package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/shared/telemetry"
)

const (
	maxFrameBytes   = 64 << 10
	actionQueueSize = 4
	maxPingFailures = 3
	closeGrace      = time.Second

	defaultWriteTimeout  = 5 * time.Second
	defaultPingInterval  = 25 * time.Second
	defaultPingTimeout   = 5 * time.Second
	defaultRatePerSecond = 2.0
	defaultRateBurst     = 5
)

// GatewayOptions tunes the websocket endpoint. Zero values use defaults.
type GatewayOptions struct {
	// OriginPatterns are host patterns accepted for cross-origin handshakes.
	OriginPatterns []string
	// AnyOrigin disables the origin check.
	AnyOrigin bool

	WriteTimeout  time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration
	RatePerSecond float64
	RateBurst     int
	SendQueue     int
}

// Gateway upgrades authenticated requests to websocket sessions.
type Gateway struct {
	Manager  *Manager
	Verifier auth.Verifier
	Options  GatewayOptions
	NewID    func() string
}

// NewGateway builds a gateway issuing ULID connection ids.
func NewGateway(manager *Manager, verifier auth.Verifier, opts GatewayOptions) *Gateway {
	return &Gateway{
		Manager:  manager,
		Verifier: verifier,
		Options:  opts,
		NewID:    func() string { return ulid.Make().String() },
	}
}

// Handle is the gin handler for GET /ws?token=<bearer>. An invalid token
// is rejected with 401 before the upgrade, so no connection is recorded.
func (g *Gateway) Handle(c *gin.Context) {
	claims, err := g.Verifier.Verify(strings.TrimSpace(c.Query("token")))
	if err != nil {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:     g.Options.OriginPatterns,
		InsecureSkipVerify: g.Options.AnyOrigin,
	})
	if err != nil {
		telemetry.Warn("realtime.accept.failed", map[string]any{
			"user_id":    claims.Sub,
			"request_id": middleware.RequestIDFromContext(c),
			"origin":     c.GetHeader("Origin"),
			"error":      err.Error(),
		})
		return
	}
	g.serve(c.Request.Context(), conn, claims.Sub)
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, userID string) {
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(g.NewID(), userID, g.Options.SendQueue)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := g.Manager.Open(ctx, client); err != nil {
		telemetry.Error("realtime.connection.open_failed", map[string]any{
			"connection_id": client.ID,
			"user_id":       userID,
			"error":         err.Error(),
		})
		_ = conn.Close(websocket.StatusInternalError, "registry unavailable")
		return
	}

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.Manager.Close(context.WithoutCancel(ctx), client.ID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// The manager closes the client on failed delivery; the socket follows.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			shutdown(websocket.StatusGoingAway, "connection closed")
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case f := <-client.Send:
				if err := writeFrame(ctx, conn, f, g.writeTimeout()); err != nil {
					metrics.IncDeliveryFailure("write")
					telemetry.Warn("realtime.write.failed", map[string]any{
						"connection_id": client.ID,
						"close_status":  int(websocket.CloseStatus(err)),
						"error":         err.Error(),
					})
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	// Actions run one at a time per connection. A disconnect does not
	// cancel the action in flight; its reply then fails delivery.
	actions := make(chan Action, actionQueueSize)
	go func() {
		dispatchCtx := context.WithoutCancel(ctx)
		for a := range actions {
			select {
			case <-client.Done():
				continue
			default:
			}
			g.Manager.Dispatch(dispatchCtx, client.ID, a)
		}
	}()
	defer close(actions)

	limiter := rate.NewLimiter(rate.Limit(g.ratePerSecond()), g.rateBurst())
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "bye")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				telemetry.Info("realtime.read.failed", map[string]any{
					"connection_id": client.ID,
					"error":         err.Error(),
				})
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break
		}

		if !limiter.Allow() {
			_ = g.Manager.Deliver(ctx, client.ID, ErrorFrame(CodeRateLimited, "too many frames", ""))
			continue
		}
		if typ != websocket.MessageText {
			_ = g.Manager.Deliver(ctx, client.ID, ErrorFrame(CodeBadRequest, "frames must be JSON text", ""))
			continue
		}

		action, err := ParseAction(data)
		if err != nil {
			_ = g.Manager.Deliver(ctx, client.ID, ErrorFrame(CodeBadRequest, "frame must be a JSON object with an action", ""))
			continue
		}

		select {
		case actions <- action:
		default:
			_ = g.Manager.Deliver(ctx, client.ID, ErrorFrame(CodeRateLimited, "too many pending requests", ""))
		}
	}

	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.pingInterval())
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.pingTimeout())
			err := conn.Ping(pingCtx)
			pingCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			telemetry.Debug("realtime.ping.failed", map[string]any{
				"connection_id": client.ID,
				"failures":      failures,
				"error":         err.Error(),
			})
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (g *Gateway) writeTimeout() time.Duration {
	if g.Options.WriteTimeout > 0 {
		return g.Options.WriteTimeout
	}
	return defaultWriteTimeout
}

func (g *Gateway) pingInterval() time.Duration {
	if g.Options.PingInterval > 0 {
		return g.Options.PingInterval
	}
	return defaultPingInterval
}

func (g *Gateway) pingTimeout() time.Duration {
	if g.Options.PingTimeout > 0 {
		return g.Options.PingTimeout
	}
	return defaultPingTimeout
}

func (g *Gateway) ratePerSecond() float64 {
	if g.Options.RatePerSecond > 0 {
		return g.Options.RatePerSecond
	}
	return defaultRatePerSecond
}

func (g *Gateway) rateBurst() int {
	if g.Options.RateBurst > 0 {
		return g.Options.RateBurst
	}
	return defaultRateBurst
}

func writeFrame(parent context.Context, conn *websocket.Conn, f Frame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// OriginPatterns turns allowed origins ("https://app.example.com") into the
// host patterns websocket.Accept matches. A "*" entry allows any origin.
func OriginPatterns(allowed []string) (patterns []string, anyOrigin bool) {
	seen := map[string]struct{}{}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil, true
		}
		host := a
		if strings.Contains(a, "://") {
			u, err := url.Parse(a)
			if err != nil || u.Host == "" {
				continue
			}
			host = u.Host
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		patterns = append(patterns, host)
	}
	return patterns, false
}
