package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/park285/boardroom/internal/roomapi"
	"github.com/park285/boardroom/internal/transport"
	"github.com/park285/boardroom/pkg/wire"
)

func main() {
	baseURL := flag.String("server", os.Getenv("BOARD_SERVER_URL"), "board server base url")
	room := flag.String("room", "", "room id to check")
	boardKey := flag.String("board", "", "board key to check")
	watch := flag.Duration("watch", 0, "observe the board websocket for this long")
	pngOut := flag.String("png", "", "write the board thumbnail to this file")
	flag.Parse()

	if *baseURL == "" {
		log.Fatal("BOARD_SERVER_URL or -server is required")
	}

	api := roomapi.NewClient(*baseURL, roomapi.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := api.Health(ctx)
	if err != nil {
		log.Printf("/healthz error: %v", err)
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("health %s=%s", name, health[name])
	}

	if *room == "" || *boardKey == "" {
		return
	}

	st, err := api.State(ctx, *room, *boardKey)
	if err != nil {
		log.Printf("state error: %v", err)
	} else {
		log.Printf("state ok: game=%s variant=%s seq=%d turn=%s moves=%d finished=%v",
			st.GameID, st.Variant, st.Seq, st.Turn, st.MoveCount, st.Finished())
	}

	if *pngOut != "" {
		img, err := api.BoardPNG(ctx, *room, *boardKey, false)
		if err != nil {
			log.Printf("board.png error: %v", err)
		} else if err := os.WriteFile(*pngOut, img, 0o644); err != nil {
			log.Printf("write %s: %v", *pngOut, err)
		} else {
			log.Printf("board.png written: %s (%d bytes)", *pngOut, len(img))
		}
	}

	if *watch <= 0 {
		return
	}
	observe(*baseURL, *room, *boardKey, *watch)
}

// observe prints every frame on the board socket as a spectator.
func observe(baseURL, room, boardKey string, d time.Duration) {
	ws := transport.NewWebSocket(wsEndpoint(baseURL, room, boardKey), transport.Options{MaxReconnectAttempts: 2})
	ws.OnStateChange(func(state transport.State) {
		log.Printf("WS state: %s", state)
	})
	ws.OnMessage(func(data []byte) {
		msg, err := wire.Decode(data)
		if err != nil {
			log.Printf("WS malformed frame: %v", err)
			return
		}
		switch msg.Type {
		case wire.TypeState:
			fmt.Printf("state seq=%d turn=%s forced=%v result=%v\n", msg.State.Seq, msg.State.Turn, msg.State.ForcedFrom != nil, msg.State.Result != nil)
		case wire.TypeSeats:
			fmt.Printf("seats seq=%d light=%v dark=%v\n", msg.Seq, msg.Seats.Light != nil, msg.Seats.Dark != nil)
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	t := time.NewTimer(d)
	<-t.C

	_ = ws.Close(context.Background())
}

func wsEndpoint(baseURL, room, boardKey string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return base + "/ws/" + url.PathEscape(room) + "/" + url.PathEscape(boardKey)
}
