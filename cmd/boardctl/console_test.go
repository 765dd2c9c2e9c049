package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/park285/boardroom/internal/client"
	"github.com/park285/boardroom/internal/msgcat"
	"github.com/park285/boardroom/pkg/board"
)

func newTestConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	reg := client.NewRegistry()
	for _, b := range []string{"b1", "b2"} {
		s, err := client.NewSession(client.Config{ServerURL: "ws://boards.test", Room: "lobby", Board: b, Radius: 5})
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := reg.Add(s); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	t.Cleanup(reg.Close)
	var out bytes.Buffer
	return newConsole(reg, cat, &out), &out
}

func TestConsoleCommands(t *testing.T) {
	c, out := newTestConsole(t)
	if c.active != "lobby/b1" {
		t.Fatalf("active = %q", c.active)
	}

	steps := []struct {
		line string
		want string
	}{
		{"help", "join <light|dark>"},
		{"boards", "lobby/b2: offline"},
		{"use lobby/b2", "active board lobby/b2"},
		{"use nowhere/x", "use refused"},
		{"join light", "join refused"},
		{"time 180 2", "time refused"},
		{"dance", "unknown command dance"},
		{"show", "lobby/b2: offline"},
	}
	for _, step := range steps {
		out.Reset()
		if c.exec(step.line) {
			t.Fatalf("%q quit", step.line)
		}
		if !strings.Contains(out.String(), step.want) {
			t.Fatalf("%q: output %q, want %q", step.line, out.String(), step.want)
		}
	}
	if !c.exec("quit") {
		t.Fatalf("quit did not quit")
	}
}

func TestBoardText(t *testing.T) {
	sel := board.Square("c3")
	b := board.Board{
		"c3": {Color: board.Light},
		"f6": {Color: board.Dark, King: true},
		"e1": {Color: board.Light, Kind: "q"},
	}
	v := client.View{Pieces: b.Pieces(), Selected: &sel, LegalTargets: []board.Square{"d4", "b4"}}

	lines := strings.Split(strings.TrimRight(boardText(v, false), "\n"), "\n")
	if len(lines) != 9 {
		t.Fatalf("lines = %d", len(lines))
	}
	// rank 3 row: "3 " then two chars per file
	row3 := lines[5]
	if !strings.HasPrefix(row3, "3 ") || row3[2+2*2:2+2*2+2] != "*M" {
		t.Fatalf("rank 3 = %q", row3)
	}
	if row4 := lines[4]; row4[2+2*1+1] != '+' || row4[2+2*3+1] != '+' {
		t.Fatalf("rank 4 targets = %q", row4)
	}
	if row6 := lines[2]; row6[2+2*5+1] != 'k' {
		t.Fatalf("rank 6 = %q", row6)
	}
	if row1 := lines[7]; row1[2+2*4+1] != 'Q' {
		t.Fatalf("rank 1 = %q", row1)
	}
	if lines[8] != "   a b c d e f g h" {
		t.Fatalf("files = %q", lines[8])
	}

	flipped := strings.Split(boardText(v, true), "\n")
	if !strings.HasPrefix(flipped[0], "1 ") || flipped[8] != "   h g f e d c b a" {
		t.Fatalf("flipped = %q / %q", flipped[0], flipped[8])
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[int64]string{0: "0:00", 999: "0:01", 61_000: "1:01", 300_000: "5:00"}
	for in, want := range cases {
		if got := formatClock(in); got != want {
			t.Fatalf("formatClock(%d) = %q, want %q", in, got, want)
		}
	}
}
