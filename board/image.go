package board

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	imageCell   = 32
	imageMargin = 40
)

var (
	boardWood  = color.RGBA{R: 0xdc, G: 0xb3, B: 0x5c, A: 0xff}
	lineColor  = color.RGBA{A: 0xff}
	stoneBlack = color.RGBA{A: 0xff}
	stoneWhite = color.RGBA{R: 0xf8, G: 0xf8, B: 0xf8, A: 0xff}
)

// RenderPNG draws the position as a PNG: wood background, grid, star
// points and stones, with column letters and row numbers in the margin.
func (b *Board) RenderPNG(w io.Writer) error {
	imgW := 2*imageMargin + (b.width-1)*imageCell
	imgH := 2*imageMargin + (b.height-1)*imageCell
	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH))

	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	fill(img, img.Bounds(), boardWood)

	gridX := func(x int) int { return imageMargin + x*imageCell }
	gridY := func(y int) int { return imageMargin + y*imageCell }

	for x := 0; x < b.width; x++ {
		fill(img, image.Rect(gridX(x), gridY(0), gridX(x)+1, gridY(b.height-1)+1), lineColor)
	}
	for y := 0; y < b.height; y++ {
		fill(img, image.Rect(gridX(0), gridY(y), gridX(b.width-1)+1, gridY(y)+1), lineColor)
	}

	for _, p := range starPoints(b.width, b.height) {
		disc(img, gridX(p.X), gridY(p.Y), 4, lineColor)
	}

	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			switch b.cells[y*b.width+x] {
			case Black:
				disc(img, gridX(x), gridY(y), imageCell/2-2, stoneBlack)
			case White:
				disc(img, gridX(x), gridY(y), imageCell/2-2, stoneBlack)
				disc(img, gridX(x), gridY(y), imageCell/2-3, stoneWhite)
			}
		}
	}

	if err := b.drawCoordinates(img, gridX, gridY); err != nil {
		return err
	}
	return errors.WithStack(png.Encode(w, img))
}

// drawCoordinates labels columns A..T (skipping I) and rows counted from
// the bottom, matching the GTP vertex convention.
func (b *Board) drawCoordinates(img *image.RGBA, gridX, gridY func(int) int) error {
	fnt, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return errors.Wrap(err, "parsing coordinate font")
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(fnt)
	ctx.SetFontSize(14)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(image.NewUniform(lineColor))

	for x := 0; x < b.width; x++ {
		col := byte('A' + x)
		if col >= 'I' {
			col++
		}
		pt := freetype.Pt(gridX(x)-4, imageMargin/2)
		if _, err := ctx.DrawString(string(col), pt); err != nil {
			return errors.WithStack(err)
		}
	}
	for y := 0; y < b.height; y++ {
		row := itoa(b.height - y)
		pt := freetype.Pt(8, gridY(y)+5)
		if _, err := ctx.DrawString(row, pt); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func itoa(n int) string {
	if n >= 10 {
		return string([]byte{byte('0' + n/10), byte('0' + n%10)})
	}
	return string([]byte{byte('0' + n)})
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func disc(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}

// starPoints returns the hoshi for the board size: the nine canonical
// handicap points, center included.
func starPoints(width, height int) []Position {
	return GetHandicapPositions(width, height, 9)
}
