package tray

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// IconSize is the edge length of the tray bitmap.
const IconSize = 64

// LoadIcon decodes the PNG at path and scales it to IconSize. Any failure
// falls back to DefaultIcon and is returned alongside it.
func LoadIcon(path string) (image.Image, error) {
	if path == "" {
		return DefaultIcon(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultIcon(), nil
		}
		return DefaultIcon(), fmt.Errorf("tray: open icon: %w", err)
	}
	defer f.Close()
	src, err := png.Decode(f)
	if err != nil {
		return DefaultIcon(), fmt.Errorf("tray: decode icon %s: %w", path, err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst, nil
}

// DefaultIcon is a white square with a black border and the letters "AB".
func DefaultIcon() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	black := color.Black
	for i := 0; i < IconSize; i++ {
		img.Set(i, 0, black)
		img.Set(i, IconSize-1, black)
		img.Set(0, i, black)
		img.Set(IconSize-1, i, black)
	}
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(10, 10+face.Ascent),
	}
	d.DrawString("AB")
	return img
}

// Encode renders img in the format the platform tray expects: ICO on
// Windows, PNG elsewhere.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("tray: encode icon: %w", err)
	}
	if runtime.GOOS == "windows" {
		return wrapICO(buf.Bytes(), img.Bounds().Dx(), img.Bounds().Dy()), nil
	}
	return buf.Bytes(), nil
}

// wrapICO embeds a PNG payload in a single-image ICO container.
func wrapICO(pngData []byte, w, h int) []byte {
	dim := func(v int) byte {
		if v >= 256 {
			return 0
		}
		return byte(v)
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Reserved, Type, Count uint16
	}{0, 1, 1})
	buf.WriteByte(dim(w))
	buf.WriteByte(dim(h))
	buf.WriteByte(0) // palette
	buf.WriteByte(0) // reserved
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Planes, BitCount uint16
		Size, Offset     uint32
	}{1, 32, uint32(len(pngData)), 6 + 16})
	buf.Write(pngData)
	return buf.Bytes()
}
