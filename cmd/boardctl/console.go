package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/park285/boardroom/internal/client"
	"github.com/park285/boardroom/internal/layout"
	"github.com/park285/boardroom/internal/msgcat"
	"github.com/park285/boardroom/pkg/board"
)

// console runs commands against the active board. Not safe for concurrent use.
type console struct {
	reg    *client.Registry
	cat    *msgcat.Catalog
	out    io.Writer
	now    func() time.Time
	active string

	lastPhase client.Phase
	lastPulse bool
}

func newConsole(reg *client.Registry, cat *msgcat.Catalog, out io.Writer) *console {
	c := &console{reg: reg, cat: cat, out: out, now: time.Now, lastPhase: -1}
	if keys := reg.Keys(); len(keys) > 0 {
		c.active = keys[0]
	}
	return c
}

func (c *console) say(key string, data any) {
	if s := c.cat.Text(key, data); s != "" {
		fmt.Fprintln(c.out, s)
	}
}

// exec runs one command line and reports whether to quit.
func (c *console) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help":
		c.say("command.help", nil)
		return false
	case "quit", "exit":
		return true
	case "boards":
		for _, key := range c.reg.Keys() {
			if s, ok := c.reg.Get(key); ok {
				c.sayPhase(s.Current())
			}
		}
		return false
	case "use":
		if len(args) != 1 {
			c.say("command.refused", map[string]any{"Command": cmd})
			return false
		}
		if _, ok := c.reg.Get(args[0]); !ok {
			c.say("command.refused", map[string]any{"Command": cmd})
			return false
		}
		c.active = args[0]
		c.lastPhase = -1
		c.say("command.active", map[string]any{"Key": c.active})
		return false
	case "pos":
		p, ok := parsePoint(args)
		if !ok {
			c.say("command.refused", map[string]any{"Command": cmd})
			return false
		}
		c.reg.UpdatePosition(p)
		return false
	case "on", "off":
		c.reg.SetEnabled(cmd == "on")
		return false
	}

	s, ok := c.reg.Get(c.active)
	if !ok {
		c.say("command.refused", map[string]any{"Command": cmd})
		return false
	}
	switch cmd {
	case "show":
		c.show(s.Current())
		return false
	case "join":
		side, ok := parseSideArg(args)
		ok = ok && s.RequestJoin(side)
		c.report(cmd, ok)
		if ok {
			if n := c.reg.LeaveEverywhereExcept(c.active); n > 0 {
				c.say("command.released", map[string]any{"Count": n})
			}
		}
	case "leave":
		if len(args) == 0 {
			c.report(cmd, s.LeaveOwnedSeats() > 0)
			return false
		}
		side, ok := parseSideArg(args)
		c.report(cmd, ok && s.RequestLeave(side))
	case "pick":
		if len(args) != 1 {
			c.report(cmd, false)
			return false
		}
		sent := s.PickSquare(board.Square(strings.ToLower(args[0])))
		if sent {
			c.report(cmd, true)
		}
		c.show(s.Current())
	case "move":
		if len(args) != 2 {
			c.report(cmd, false)
			return false
		}
		c.report(cmd, s.Move(board.Square(strings.ToLower(args[0])), board.Square(strings.ToLower(args[1]))))
	case "time":
		base, inc, ok := parseControl(args)
		c.report(cmd, ok && s.SetTime(base, inc))
	case "reset":
		c.report(cmd, s.Reset())
	default:
		c.say("command.unknown", map[string]any{"Command": cmd})
	}
	return false
}

func (c *console) report(cmd string, ok bool) {
	key := "command.refused"
	if ok {
		key = "command.sent"
	}
	c.say(key, map[string]any{"Command": cmd})
}

// watch prints phase changes, pulses and low-time warnings of the active board.
func (c *console) watch() {
	s, ok := c.reg.Get(c.active)
	if !ok {
		return
	}
	v := s.Current()
	if v.Phase != c.lastPhase {
		c.lastPhase = v.Phase
		c.sayPhase(v)
	}
	if v.Pulse && !c.lastPulse {
		c.say("board.pulse", nil)
	}
	c.lastPulse = v.Pulse
	if v.Warning && v.Clock.Active != nil {
		c.say("board.warning", map[string]any{"Side": *v.Clock.Active})
	}
}

func (c *console) sayPhase(v client.View) {
	c.say("phase."+v.Phase.String(), map[string]any{"Key": v.Key, "Sides": joinSides(v.MySides)})
}

func (c *console) show(v client.View) {
	c.sayPhase(v)
	if v.Pieces == nil {
		return
	}
	fmt.Fprint(c.out, boardText(v, len(v.MySides) == 1 && v.MySides[0] == board.Dark))
	for _, side := range board.Sides {
		if seat := v.Seats.Get(side); seat != nil {
			c.say("board.seat", map[string]any{"Side": side, "Name": seat.DisplayName})
		} else {
			c.say("board.seat_empty", map[string]any{"Side": side})
		}
	}
	c.say("board.clock", map[string]any{
		"Light": formatClock(v.Clock.Remaining.Light),
		"Dark":  formatClock(v.Clock.Remaining.Dark),
	})
	if v.Joining != nil {
		c.say("board.joining", map[string]any{"Side": *v.Joining})
	}
	if v.Result != nil {
		c.say("result."+string(v.Result.Kind), map[string]any{"Winner": v.Result.Winner})
		return
	}
	c.say("board.turn", map[string]any{"Turn": v.Turn, "MoveCount": v.MoveCount + 1})
	if v.Selected != nil {
		c.say("mode."+v.Mode.String(), map[string]any{"Square": *v.Selected, "Targets": joinSquares(v.LegalTargets)})
	}
}

// boardText draws rank 8 at the top unless flipped.
func boardText(v client.View, flip bool) string {
	cells := make(map[board.Square]byte, len(v.Pieces))
	for _, p := range v.Pieces {
		cells[p.Square] = pieceGlyph(p.Piece)
	}
	for _, t := range v.LegalTargets {
		if _, taken := cells[t]; !taken {
			cells[t] = '+'
		}
	}

	var b strings.Builder
	for row := 0; row < board.Size; row++ {
		rank := board.Size - 1 - row
		if flip {
			rank = row
		}
		fmt.Fprintf(&b, "%d ", rank+1)
		for col := 0; col < board.Size; col++ {
			file := col
			if flip {
				file = board.Size - 1 - col
			}
			sq, _ := board.FileRankToSquare(file, rank)
			ch, ok := cells[sq]
			switch {
			case ok:
			case board.IsDarkSquare(sq):
				ch = '.'
			default:
				ch = ' '
			}
			mark := byte(' ')
			if v.Selected != nil && *v.Selected == sq {
				mark = '*'
			}
			b.WriteByte(mark)
			b.WriteByte(ch)
		}
		b.WriteByte('\n')
	}
	b.WriteString("  ")
	for col := 0; col < board.Size; col++ {
		file := col
		if flip {
			file = board.Size - 1 - col
		}
		b.WriteByte(' ')
		b.WriteByte(byte('a' + file))
	}
	b.WriteByte('\n')
	return b.String()
}

func pieceGlyph(p board.Piece) byte {
	var ch byte = 'm'
	switch {
	case p.Kind != "":
		ch = strings.ToLower(p.Kind)[0]
	case p.King:
		ch = 'k'
	}
	if p.Color == board.Light {
		ch -= 'a' - 'A'
	}
	return ch
}

func formatClock(ms int64) string {
	sec := (ms + 999) / 1000
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

func parsePoint(args []string) (layout.Point, bool) {
	if len(args) != 3 {
		return layout.Point{}, false
	}
	var v [3]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return layout.Point{}, false
		}
		v[i] = f
	}
	return layout.Point{X: v[0], Y: v[1], Z: v[2]}, true
}

func parseSideArg(args []string) (board.Side, bool) {
	if len(args) != 1 {
		return "", false
	}
	return board.ParseSide(args[0])
}

func parseControl(args []string) (int, int, bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	base, err1 := strconv.Atoi(args[0])
	inc, err2 := strconv.Atoi(args[1])
	return base, inc, err1 == nil && err2 == nil
}

func joinSides(sides []board.Side) string {
	out := make([]string, len(sides))
	for i, s := range sides {
		out[i] = string(s)
	}
	return strings.Join(out, "+")
}

func joinSquares(sqs []board.Square) string {
	out := make([]string, len(sqs))
	for i, s := range sqs {
		out[i] = string(s)
	}
	return strings.Join(out, " ")
}
