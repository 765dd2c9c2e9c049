package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/boardroom/internal/authority"
	"github.com/park285/boardroom/internal/variant"
	"github.com/park285/boardroom/pkg/wire"
)

const (
	pingInterval  = 15 * time.Second
	writeTimeout  = 5 * time.Second
	readLimit     = 16 << 10
	maxConnIDSize = 64
)

func connectionID(r *http.Request) string {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" || len(id) > maxConnIDSize {
		return uuid.NewString()
	}
	return id
}

// publishOutcome broadcasts the event of an accepted mutation, if any.
func publishOutcome(ctx context.Context, pub Publisher, key string, out authority.Outcome) error {
	msg, ok := out.Event()
	if !ok {
		return nil
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return pub.PublishFrame(ctx, key, data)
}

func handleWS(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := roomKeyFrom(r)
		connID := connectionID(r)
		log := d.Logger.With(zap.String("room", key), zap.String("conn", connID))

		// 스냅샷 이후 이벤트를 놓치지 않도록 먼저 구독
		sub := d.Broker.Subscribe(key)

		st, stale, err := d.Manager.Attach(r.Context(), key, connID, r.URL.Query().Get("variant"))
		if perr := publishOutcome(r.Context(), d.Publisher, key, stale); perr != nil {
			log.Warn("ws_publish_failed", zap.Error(perr))
		}
		if err != nil {
			d.Broker.Unsubscribe(key, sub)
			switch {
			case errors.Is(err, variant.ErrUnknownVariant):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, authority.ErrConnectionInUse):
				log.Warn("ws_conn_id_in_use")
				writeError(w, http.StatusConflict, "connection id already connected")
			default:
				log.Error("room_open_failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		detach := func() {
			out, err := d.Manager.Detach(context.Background(), key, connID)
			if err != nil {
				log.Warn("room_detach_failed", zap.Error(err))
			}
			if err := publishOutcome(context.Background(), d.Publisher, key, out); err != nil {
				log.Warn("ws_publish_failed", zap.Error(err))
			}
			d.Broker.Unsubscribe(key, sub)
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.AllowedOrigins})
		if err != nil {
			detach()
			log.Warn("ws_accept_failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		log.Info("ws_connected", zap.Int64("seq", st.Seq))
		if err := writeFrame(ctx, conn, wire.NewState(st)); err != nil {
			detach()
			log.Debug("ws_initial_write_failed", zap.Error(err))
			return
		}

		keepAlive := func(ctx context.Context) {
			if err := d.Manager.KeepAlive(ctx, key, connID); err != nil {
				log.Warn("room_keepalive_failed", zap.Error(err))
			}
		}
		go writeLoop(ctx, cancel, conn, sub, keepAlive)

		readLoop(ctx, conn, d, key, connID, log)

		cancel()
		detach()
		log.Info("ws_disconnected")
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub <-chan []byte, keepAlive func(context.Context)) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sub:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			if err == nil {
				keepAlive(pctx)
			}
			pcancel()
			if err != nil {
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, d Deps, key, connID string, log *zap.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("ws_read_ended", zap.Error(err))
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			log.Warn("ws_message_malformed", zap.Error(err))
			continue
		}
		if !msg.Type.Intent() {
			log.Warn("ws_message_unexpected", zap.String("type", string(msg.Type)))
			continue
		}
		out, err := d.Manager.Handle(ctx, key, connID, msg)
		if perr := publishOutcome(ctx, d.Publisher, key, out); perr != nil {
			log.Warn("ws_publish_failed", zap.Error(perr))
		}
		if err != nil {
			log.Info("ws_intent_rejected", zap.String("type", string(msg.Type)), zap.Error(err))
		}
	}
}
