package authority

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/wire"
)

// Archive records finished games.
type Archive interface {
	SaveResult(ctx context.Context, roomKey string, st *wire.GameState, endedAt time.Time) error
}

// OpenPostgres opens and pings a lib/pq pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive { return &PostgresArchive{db: db} }

// SaveResult upserts a finished game keyed by its game id.
func (a *PostgresArchive) SaveResult(ctx context.Context, roomKey string, st *wire.GameState, endedAt time.Time) error {
	if a == nil || a.db == nil || st == nil || st.Result == nil {
		return nil
	}
	movesRaw, _ := json.Marshal(st.Moves)
	started := endedAt
	if st.StartedAtMs > 0 {
		started = time.UnixMilli(st.StartedAtMs)
	}
	duration := endedAt.Sub(started).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	baseSec, incSec := st.Clock.Control()
	lightID, lightName := seatFields(st.Seats.Light)
	darkID, darkName := seatFields(st.Seats.Dark)

	q := `INSERT INTO board_games (
        game_id, room_key, variant,
        light_id, light_name, dark_id, dark_name,
        time_control, result, winner, moves, record, move_count,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
      ) ON CONFLICT (game_id) DO UPDATE SET
        light_id=EXCLUDED.light_id,
        light_name=EXCLUDED.light_name,
        dark_id=EXCLUDED.dark_id,
        dark_name=EXCLUDED.dark_name,
        result=EXCLUDED.result,
        winner=EXCLUDED.winner,
        moves=EXCLUDED.moves,
        record=EXCLUDED.record,
        move_count=EXCLUDED.move_count,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := a.db.ExecContext(ctx, q,
		st.GameID, roomKey, st.Variant,
		lightID, lightName, darkID, darkName,
		fmt.Sprintf("%d+%d", baseSec, incSec),
		string(st.Result.Kind), string(st.Result.Winner),
		string(movesRaw), buildRecord(st, endedAt), st.MoveCount,
		started, endedAt, duration,
	)
	return err
}

func seatFields(s *wire.SeatInfo) (string, string) {
	if s == nil {
		return "", ""
	}
	id := strings.TrimSpace(s.PlayerID)
	if id == "" {
		id = s.ConnectionID
	}
	return id, strings.TrimSpace(s.DisplayName)
}

func resultToken(r *wire.Result) string {
	if r == nil {
		return "*"
	}
	switch r.Winner {
	case board.Light:
		return "1-0"
	case board.Dark:
		return "0-1"
	}
	if r.Kind == wire.ResultDraw {
		return "1/2-1/2"
	}
	return "*"
}

// buildRecord renders a PGN-style text record of the game.
func buildRecord(st *wire.GameState, endedAt time.Time) string {
	var b strings.Builder
	_, lightName := seatFields(st.Seats.Light)
	_, darkName := seatFields(st.Seats.Dark)
	token := resultToken(st.Result)
	baseSec, incSec := st.Clock.Control()

	b.WriteString("[Event \"boardroom\"]\n")
	b.WriteString(fmt.Sprintf("[Variant \"%s\"]\n", sanitizeRecord(st.Variant)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", endedAt.Year(), int(endedAt.Month()), endedAt.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizeRecord(lightName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizeRecord(darkName)))
	b.WriteString(fmt.Sprintf("[TimeControl \"%d+%d\"]\n", baseSec, incSec))
	if st.Result != nil {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", st.Result.Kind))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", token))

	turns := turnTokens(st.Moves)
	for i := 0; i < len(turns); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, turns[i]))
		if i+1 < len(turns) {
			b.WriteString(" ")
			b.WriteString(turns[i+1])
		}
		b.WriteString(" ")
	}
	b.WriteString(token)
	return b.String()
}

// turnTokens folds the jumps of one checkers turn into a single token, so
// "c3xe5","e5xc7" becomes "c3xe5xc7". A capture continues the previous turn
// exactly when it starts where the previous capture landed.
func turnTokens(moves []string) []string {
	out := make([]string, 0, len(moves))
	lastTo := ""
	for _, mv := range moves {
		from, to, capture := strings.Cut(mv, "x")
		if capture && lastTo != "" && from == lastTo {
			out[len(out)-1] += "x" + to
			lastTo = to
			continue
		}
		out = append(out, mv)
		lastTo = ""
		if capture {
			lastTo = to
		}
	}
	return out
}

func sanitizeRecord(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
