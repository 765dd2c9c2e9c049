package server

import (
	"github.com/go-chi/chi/v5"
)

func addRoutes(r chi.Router, d Deps) {
	rooms := newRoomGuard(d.AllowedRooms)

	r.Get("/healthz", handleHealth(d.Logger, d.Checks))
	r.With(rooms.middleware).Get("/ws/{room}/{board}", handleWS(d))

	r.Route("/api/rooms/{room}/{board}", func(r chi.Router) {
		r.Use(rooms.middleware)
		r.Get("/state", handleState(d))
		r.Get("/board.png", handleBoardPNG(d))
	})
}
