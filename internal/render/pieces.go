package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/boardroom/pkg/board"
)

//go:embed assets/*.svg
var pieceFiles embed.FS

type pieceCacheKey struct {
	piece board.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece board.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	name := pieceAssetName(piece)
	data, err := pieceFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read piece asset %s: %w", name, err)
	}

	icon, err := oksvg.ReadIconStream(bytes.NewReader(sanitizeSVG(data)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	if piece.Kind != "" {
		drawKindLetter(img, piece)
	}

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}

// pieceAssetName picks the disc artwork. Chess pieces reuse the man disc
// and get their kind letter stamped on top.
func pieceAssetName(piece board.Piece) string {
	shape := "man"
	if piece.King && piece.Kind == "" {
		shape = "king"
	}
	tone := "light"
	if piece.Color == board.Dark {
		tone = "dark"
	}
	return fmt.Sprintf("assets/%s_%s.svg", shape, tone)
}

func drawKindLetter(img *image.RGBA, piece board.Piece) {
	clr := color.NRGBA{R: 60, G: 48, B: 36, A: 255}
	if piece.Color == board.Dark {
		clr = color.NRGBA{R: 245, G: 232, B: 210, A: 255}
	}
	letter := strings.ToUpper(piece.Kind)
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(clr), Face: basicfont.Face7x13}
	b := img.Bounds()
	width := drawer.MeasureString(letter).Round()
	metrics := basicfont.Face7x13.Metrics()
	baseline := b.Min.Y + (b.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2 - b.Dy()/16
	drawer.Dot = fixed.P(b.Min.X+(b.Dx()-width)/2, baseline)
	drawer.DrawString(letter)
}
