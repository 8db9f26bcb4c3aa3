package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
)

// streamBuffer is how many events a slow websocket client may lag behind
// before events are dropped for it.
const streamBuffer = 64

const streamWriteTimeout = 5 * time.Second

// stream relays bus events to a websocket client. The first message is a
// platforms_updated snapshot so the client can render immediately.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan event.Event, streamBuffer)
	sub := s.cfg.Bus.SubscribeAll(event.HandlerFunc(func(_ context.Context, evt event.Event) error {
		select {
		case events <- evt:
		default:
		}
		return nil
	}))
	defer sub.Unsubscribe()

	// Reads detect the client going away; the stream accepts no input.
	ctx = conn.CloseRead(ctx)

	if zones, err := s.engine.Zones(ctx); err == nil {
		hello := event.New(event.TypePlatformsUpdated, event.SourceStream, event.ZonesSnapshot{Zones: zones})
		if err := s.writeEvent(ctx, conn, hello); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt := <-events:
			if err := s.writeEvent(ctx, conn, evt); err != nil {
				s.logger.Debug("stream write failed", "error", err.Error())
				conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, evt event.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, notify.EnvelopeOf(evt))
}
