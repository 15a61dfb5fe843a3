package protocol

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// ErrInvalidImage is returned when an Image's dimensions do not match its
// pixel data.
var ErrInvalidImage = errors.New("protocol: invalid image")

// MaxImageSide bounds each image dimension.
const MaxImageSide = 1 << 14

// Image is a raw interleaved pixel buffer, as read from a canvas or camera.
type Image struct {
	// Data holds Width*Height*Channels bytes, row-major.
	Data []byte `json:"data"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// Channels is 1 (gray), 2 (gray+alpha), 3 (RGB) or 4 (RGBA).
	Channels int `json:"channels"`
}

// Validate checks dimensions and data length.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 || im.Width > MaxImageSide || im.Height > MaxImageSide {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, im.Width, im.Height)
	}
	if im.Channels < 1 || im.Channels > 4 {
		return fmt.Errorf("%w: %d channels", ErrInvalidImage, im.Channels)
	}
	if want := im.Width * im.Height * im.Channels; len(im.Data) != want {
		return fmt.Errorf("%w: have %d bytes, want %d", ErrInvalidImage, len(im.Data), want)
	}
	return nil
}

// ToImage converts the buffer to an image.Image. Gray input becomes
// *image.Gray; everything else becomes *image.NRGBA.
func (im Image) ToImage() (image.Image, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, im.Width, im.Height)

	if im.Channels == 1 {
		g := image.NewGray(rect)
		copy(g.Pix, im.Data)
		return g, nil
	}

	out := image.NewNRGBA(rect)
	n := im.Width * im.Height
	for i := range n {
		src := im.Data[i*im.Channels : (i+1)*im.Channels]
		dst := out.Pix[i*4 : i*4+4]
		switch im.Channels {
		case 2:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], src[1]
		case 3:
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 0xff
		case 4:
			copy(dst, src)
		}
	}
	return out, nil
}

// ImageFrom converts img to a 4-channel Image.
func ImageFrom(img image.Image) Image {
	b := img.Bounds()
	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Image{
		Data:     append([]byte(nil), rgba.Pix[:b.Dx()*b.Dy()*4]...),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 4,
	}
}
