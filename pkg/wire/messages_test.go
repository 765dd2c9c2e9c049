package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/park285/boardroom/pkg/board"
)

func TestDecodeIntents(t *testing.T) {
	cases := []struct {
		raw  string
		want Type
	}{
		{`{"type":"join","side":"light","playerId":"p1","name":"Ann"}`, TypeJoin},
		{`{"type":"join","side":"dark"}`, TypeJoin},
		{`{"type":"leave","side":"dark"}`, TypeLeave},
		{`{"type":"move","from":"c3","to":"d4"}`, TypeMove},
		{`{"type":"setTime","baseSeconds":180}`, TypeSetTime},
		{`{"type":"reset"}`, TypeReset},
	}
	for _, tc := range cases {
		m, err := Decode([]byte(tc.raw))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tc.raw, err)
		}
		if m.Type != tc.want || !m.Type.Intent() {
			t.Fatalf("Decode(%s) type=%s", tc.raw, m.Type)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"teleport"}`,
		`{"type":"join","side":"red"}`,
		`{"type":"leave"}`,
		`{"type":"move","from":"c3","to":"z9"}`,
		`{"type":"setTime"}`,
		`{"type":"seats","seq":3}`,
		`{"type":"state"}`,
		`{"side":"light"}`,
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%s) err=%v, want ErrMalformed", raw, err)
		}
	}
}

func TestSetTimeKeepsZeroIncrement(t *testing.T) {
	b, err := Encode(NewSetTime(60, 0))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(b), `"incrementSeconds":0`) {
		t.Fatalf("zero increment dropped: %s", b)
	}
	m, err := Decode([]byte(`{"type":"setTime","baseSeconds":60}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Increment() != 0 || *m.BaseSeconds != 60 {
		t.Fatalf("unexpected setTime %+v", m)
	}
}

func TestResetFrameIsMinimal(t *testing.T) {
	b, _ := Encode(NewReset())
	if string(b) != `{"type":"reset"}` {
		t.Fatalf("reset frame = %s", b)
	}
}

func TestStateFrameShape(t *testing.T) {
	forced := board.Square("e5")
	st := &GameState{
		Variant:    VariantCheckers,
		Board:      board.Board{"e5": {Color: board.Light}},
		Turn:       board.Light,
		Seq:        9,
		ForcedFrom: &forced,
		Seats:      Seats{Light: &SeatInfo{ConnectionID: "A"}},
	}
	b, err := Encode(NewState(st))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var inner map[string]any
	if err := json.Unmarshal(raw["state"], &inner); err != nil {
		t.Fatalf("state: %v", err)
	}
	if inner["forcedFrom"] != "e5" || inner["result"] != nil || inner["seq"] != float64(9) {
		t.Fatalf("unexpected state shape: %s", raw["state"])
	}
	seats := inner["seats"].(map[string]any)
	if seats["dark"] != nil {
		t.Fatalf("empty seat must encode as null: %v", seats)
	}
}

func TestSeatsHelpers(t *testing.T) {
	s := Seats{Light: &SeatInfo{ConnectionID: "A"}, Dark: &SeatInfo{ConnectionID: "A", PlayerID: "p"}}
	if got := s.OwnedBy("A"); len(got) != 2 {
		t.Fatalf("OwnedBy = %v", got)
	}
	if len(s.OwnedBy("")) != 0 || s.Holds(board.Light, "B") {
		t.Fatalf("foreign connection must own nothing")
	}
	c := s.Clone()
	c.Dark.PlayerID = "q"
	if s.Equal(c) {
		t.Fatalf("clone shares seat pointers")
	}
	c.Dark.PlayerID = "p"
	if !s.Equal(c) {
		t.Fatalf("equal seats reported different")
	}
	if (Seats{}).Equal(s) || !(Seats{}).Empty() {
		t.Fatalf("empty seats mismatch")
	}
}
