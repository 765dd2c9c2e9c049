// Package render draws board snapshots as PNG thumbnails.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/boardroom/pkg/board"
	"github.com/park285/boardroom/pkg/wire"
)

const (
	DefaultSquareSize = 56
	minSquareSize     = 16
	maxSquareSize     = 128
)

// Options tweak one render.
type Options struct {
	// Flip puts dark at the bottom.
	Flip bool
	// Targets are drawn as small dots, e.g. the legal destinations of a selection.
	Targets []board.Square
}

type Renderer struct {
	squareSize int
}

// New returns a renderer; out-of-range sizes fall back to the default.
func New(squareSize int) *Renderer {
	if squareSize < minSquareSize || squareSize > maxSquareSize {
		squareSize = DefaultSquareSize
	}
	return &Renderer{squareSize: squareSize}
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	moveHighlightFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	forcedHighlightFill = color.NRGBA{R: 232, G: 86, B: 62, A: 150}
	captureMarkFill     = color.NRGBA{R: 148, G: 207, B: 255, A: 120}
	targetDotFill       = color.NRGBA{R: 30, G: 30, B: 30, A: 110}
	frameColor          = color.RGBA{46, 38, 30, 255}
	coordinateTextColor = color.NRGBA{R: 236, G: 224, B: 200, A: 255}
)

// RenderPNG draws st.Board with the last move, captured squares and any
// forced continuation highlighted.
func (r *Renderer) RenderPNG(ctx context.Context, st *wire.GameState, opts Options) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("state is nil")
	}
	size := r.squareSize
	margin := size / 2
	boardPx := size * board.Size
	origin := image.Point{X: margin, Y: margin}

	img := image.NewRGBA(image.Rect(0, 0, boardPx+margin*2, boardPx+margin*2))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)

	geo := geometry{size: size, origin: origin, flip: opts.Flip}
	drawSquares(img, geo)

	if lm := st.LastMove; lm != nil {
		drawSquareOverlay(img, geo, lm.From, moveHighlightFill)
		drawSquareOverlay(img, geo, lm.To, moveHighlightFill)
		for _, sq := range lm.Captured {
			drawSquareOverlay(img, geo, sq, captureMarkFill)
		}
	}
	if st.ForcedFrom != nil {
		drawSquareOverlay(img, geo, *st.ForcedFrom, forcedHighlightFill)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for _, p := range st.Board.Pieces() {
		pieceImg, err := renderPieceImage(p.Piece, size)
		if err != nil {
			return nil, err
		}
		rect, ok := geo.rect(p.Square)
		if !ok {
			continue
		}
		imagedraw.Draw(img, rect, pieceImg, image.Point{}, imagedraw.Over)
	}
	for _, sq := range opts.Targets {
		if rect, ok := geo.rect(sq); ok {
			c := rect.Min.Add(image.Pt(size/2, size/2))
			drawDisc(img, c, size/8, targetDotFill)
		}
	}
	drawCoordinates(img, geo)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return pngBuf.Bytes(), nil
}

type geometry struct {
	size   int
	origin image.Point
	flip   bool
}

// cell maps file/rank to screen column/row.
func (g geometry) cell(file, rank int) (col, row int) {
	if g.flip {
		return board.Size - 1 - file, rank
	}
	return file, board.Size - 1 - rank
}

func (g geometry) rect(sq board.Square) (image.Rectangle, bool) {
	file, rank, ok := board.SquareToFileRank(sq)
	if !ok {
		return image.Rectangle{}, false
	}
	col, row := g.cell(file, rank)
	x := g.origin.X + col*g.size
	y := g.origin.Y + row*g.size
	return image.Rect(x, y, x+g.size, y+g.size), true
}

func drawSquares(dst imagedraw.Image, g geometry) {
	for _, sq := range board.AllSquares() {
		rect, _ := g.rect(sq)
		clr := lightSquare
		if board.IsDarkSquare(sq) {
			clr = darkSquare
		}
		imagedraw.Draw(dst, rect, image.NewUniform(clr), image.Point{}, imagedraw.Src)
	}
}

func drawSquareOverlay(img *image.RGBA, g geometry, sq board.Square, clr color.Color) {
	rect, ok := g.rect(sq)
	if !ok {
		return
	}
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawCoordinates(dst imagedraw.Image, g geometry) {
	drawer := &font.Drawer{Dst: dst, Src: image.NewUniform(coordinateTextColor), Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	boardEnd := g.origin.Y + board.Size*g.size

	for i := 0; i < board.Size; i++ {
		col, row := g.cell(i, i)
		fileCenter := g.origin.X + col*g.size + g.size/2
		drawCenteredText(drawer, string(rune('a'+i)), fileCenter, boardEnd+ascent+2)

		rankCenter := g.origin.Y + row*g.size + g.size/2
		drawCenteredText(drawer, string(rune('1'+i)), g.origin.X/2, rankCenter+ascent/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	if radius <= 0 {
		blendPixel(img, center.X, center.Y, clr)
		return
	}
	rSquared := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rSquared {
				continue
			}
			blendPixel(img, center.X+x, center.Y+y, clr)
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	sr, sg, sb, sa := clr.RGBA()
	if sa == 0 {
		return
	}
	dst := img.RGBAAt(x, y)
	inv := 0xffff - sa
	// premultiplied source over premultiplied destination
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((sr + uint32(dst.R)*0x101*inv/0xffff) >> 8),
		G: uint8((sg + uint32(dst.G)*0x101*inv/0xffff) >> 8),
		B: uint8((sb + uint32(dst.B)*0x101*inv/0xffff) >> 8),
		A: uint8((sa + uint32(dst.A)*0x101*inv/0xffff) >> 8),
	})
}
