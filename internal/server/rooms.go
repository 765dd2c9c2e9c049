package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/boardroom/internal/authority"
	"github.com/park285/boardroom/internal/render"
)

const maxSegmentLen = 64

type roomKeyCtx struct{}

// RoomKey joins a room id and a board key.
func RoomKey(room, boardKey string) string { return room + "/" + boardKey }

type roomGuard struct {
	allowed map[string]struct{}
}

func newRoomGuard(rooms []string) roomGuard {
	g := roomGuard{}
	for _, r := range rooms {
		if r = strings.TrimSpace(r); r != "" {
			if g.allowed == nil {
				g.allowed = make(map[string]struct{})
			}
			g.allowed[r] = struct{}{}
		}
	}
	return g
}

// middleware validates {room}/{board} and stores the room key on the context.
func (g roomGuard) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		boardKey := chi.URLParam(r, "board")
		if !validSegment(room) || !validSegment(boardKey) {
			writeError(w, http.StatusBadRequest, "invalid room or board")
			return
		}
		if g.allowed != nil {
			if _, ok := g.allowed[room]; !ok {
				writeError(w, http.StatusNotFound, "room not found")
				return
			}
		}
		ctx := context.WithValue(r.Context(), roomKeyCtx{}, RoomKey(room, boardKey))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func roomKeyFrom(r *http.Request) string {
	key, _ := r.Context().Value(roomKeyCtx{}).(string)
	return key
}

func validSegment(s string) bool {
	if s == "" || len(s) > maxSegmentLen {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

func handleState(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Manager.Snapshot(r.Context(), roomKeyFrom(r))
		if errors.Is(err, authority.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not active")
			return
		}
		if err != nil {
			d.Logger.Error("state_snapshot_failed", zap.String("room", roomKeyFrom(r)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleBoardPNG(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := roomKeyFrom(r)
		st, err := d.Manager.Snapshot(r.Context(), key)
		if errors.Is(err, authority.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not active")
			return
		}
		if err != nil {
			d.Logger.Error("state_snapshot_failed", zap.String("room", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		flip := r.URL.Query().Get("flip")
		img, err := d.Renderer.RenderPNG(r.Context(), st, render.Options{Flip: flip == "1" || flip == "true"})
		if err != nil {
			d.Logger.Error("board_render_failed", zap.String("room", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "render failed")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(img)
	}
}
