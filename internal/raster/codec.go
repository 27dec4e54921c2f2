package raster

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire framing for cached and served rasters: a 2-byte magic, uint16 width
// and height, then the sample data. Heightfields carry float32 little-endian
// samples, images raw RGBA bytes. Dimensions are capped at MaxDim on both
// ends so a corrupt payload cannot ask for an absurd allocation.
const (
	magicHeightfield = 0x4846 // "HF"
	magicImage       = 0x4D49 // "IM"
	headerLen        = 6
)

func EncodeHeightfield(hf *Heightfield) []byte {
	w, h := hf.Width(), hf.Height()
	buf := make([]byte, headerLen+4*w*h)
	binary.LittleEndian.PutUint16(buf[0:], magicHeightfield)
	binary.LittleEndian.PutUint16(buf[2:], uint16(w))
	binary.LittleEndian.PutUint16(buf[4:], uint16(h))
	data := hf.Data()
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[headerLen+4*i:], math.Float32bits(v))
	}
	return buf
}

func DecodeHeightfield(buf []byte) (*Heightfield, error) {
	w, h, err := decodeHeader(buf, magicHeightfield, 4)
	if err != nil {
		return nil, fmt.Errorf("heightfield payload: %w", err)
	}
	hf := NewHeightfield(w, h)
	data := hf.Data()
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[headerLen+4*i:]))
	}
	return hf, nil
}

func EncodeImage(img *Image) []byte {
	w, h := img.Width(), img.Height()
	buf := make([]byte, headerLen+4*w*h)
	binary.LittleEndian.PutUint16(buf[0:], magicImage)
	binary.LittleEndian.PutUint16(buf[2:], uint16(w))
	binary.LittleEndian.PutUint16(buf[4:], uint16(h))
	copy(buf[headerLen:], img.Pix())
	return buf
}

func DecodeImage(buf []byte) (*Image, error) {
	w, h, err := decodeHeader(buf, magicImage, 4)
	if err != nil {
		return nil, fmt.Errorf("image payload: %w", err)
	}
	img := NewImage(w, h)
	copy(img.Pix(), buf[headerLen:])
	return img, nil
}

func decodeHeader(buf []byte, magic uint16, bytesPerSample int) (w, h int, err error) {
	if len(buf) < headerLen {
		return 0, 0, fmt.Errorf("short payload (%d bytes)", len(buf))
	}
	if got := binary.LittleEndian.Uint16(buf[0:]); got != magic {
		return 0, 0, fmt.Errorf("bad magic %#04x", got)
	}
	w = int(binary.LittleEndian.Uint16(buf[2:]))
	h = int(binary.LittleEndian.Uint16(buf[4:]))
	if w < 1 || h < 1 || w > MaxDim || h > MaxDim {
		return 0, 0, fmt.Errorf("bad dimensions %dx%d", w, h)
	}
	if want := headerLen + bytesPerSample*w*h; len(buf) != want {
		return 0, 0, fmt.Errorf("payload length %d, want %d for %dx%d", len(buf), want, w, h)
	}
	return w, h, nil
}
