// Package layout reads where boards sit in the shared space, which the
// client uses to decide when a board is close enough to connect.
package layout

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// DefaultRadius is the connect distance when neither the file nor the board sets one.
const DefaultRadius = 6.0

var ErrBoardNotFound = errors.New("board not in layout")

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// DistSq is the squared euclidean distance.
func (p Point) DistSq(o Point) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// Within reports whether p lies inside radius of origin. No square root.
func Within(p, origin Point, radius float64) bool {
	if radius <= 0 {
		return false
	}
	return p.DistSq(origin) <= radius*radius
}

type Board struct {
	Room    string  `yaml:"room"`
	Board   string  `yaml:"board"`
	Variant string  `yaml:"variant"`
	Origin  Point   `yaml:"origin"`
	Radius  float64 `yaml:"radius"`
}

// Key is the room key the server uses for this board.
func (b Board) Key() string { return b.Room + "/" + b.Board }

type Layout struct {
	Radius float64 `yaml:"radius"`
	Boards []Board `yaml:"boards"`
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	l, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return l, nil
}

func Parse(raw []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	if l.Radius < 0 {
		return nil, fmt.Errorf("negative radius %v", l.Radius)
	}
	if l.Radius == 0 {
		l.Radius = DefaultRadius
	}
	seen := make(map[string]struct{}, len(l.Boards))
	for i := range l.Boards {
		b := &l.Boards[i]
		b.Room = strings.TrimSpace(b.Room)
		b.Board = strings.TrimSpace(b.Board)
		b.Variant = strings.ToLower(strings.TrimSpace(b.Variant))
		if b.Room == "" || b.Board == "" {
			return nil, fmt.Errorf("boards[%d]: room and board are required", i)
		}
		if b.Radius < 0 {
			return nil, fmt.Errorf("boards[%d]: negative radius", i)
		}
		if _, dup := seen[b.Key()]; dup {
			return nil, fmt.Errorf("boards[%d]: duplicate board %s", i, b.Key())
		}
		seen[b.Key()] = struct{}{}
	}
	return &l, nil
}

// Find looks a board up by room and board key.
func (l *Layout) Find(room, boardKey string) (Board, error) {
	for _, b := range l.Boards {
		if b.Room == room && b.Board == boardKey {
			return b, nil
		}
	}
	return Board{}, fmt.Errorf("%w: %s/%s", ErrBoardNotFound, room, boardKey)
}

// RadiusFor returns the board radius, falling back to the layout radius.
func (l *Layout) RadiusFor(b Board) float64 {
	if b.Radius > 0 {
		return b.Radius
	}
	return l.Radius
}
