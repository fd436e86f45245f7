package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// Compression selects how Encode stores pixel data.
type Compression int

const (
	// Uncompressed writes raw samples.
	Uncompressed Compression = iota
	// Deflate writes zlib-compressed samples.
	Deflate
)

// EncodeOptions controls Encode. A nil *EncodeOptions writes uncompressed data.
type EncodeOptions struct {
	Compression Compression
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes r as a little-endian, single-strip, pixel-interleaved float32
// TIFF. Georeference and nodata metadata are written when present.
func Encode(w io.Writer, r *Raster, opts *EncodeOptions) error {
	if r == nil || r.Bands <= 0 || r.Height <= 0 || r.Width <= 0 {
		return fmt.Errorf("failed to encode raster: empty raster")
	}
	if len(r.Data) != r.Bands*r.Height*r.Width {
		return fmt.Errorf("failed to encode raster: data length %d does not match %s", len(r.Data), r.ShapeString())
	}
	if opts == nil {
		opts = &EncodeOptions{}
	}

	le := binary.LittleEndian
	pix := make([]byte, 4*len(r.Data))
	i := 0
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			for b := 0; b < r.Bands; b++ {
				le.PutUint32(pix[4*i:], math.Float32bits(r.At(b, y, x)))
				i++
			}
		}
	}

	compression := uint16(compressionNone)
	if opts.Compression == Deflate {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(pix); err != nil {
			return fmt.Errorf("failed to compress raster: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress raster: %w", err)
		}
		pix = buf.Bytes()
		compression = compressionDeflate
	}

	shorts := func(v ...uint16) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			le.PutUint16(b[2*i:], x)
		}
		return b
	}
	longs := func(v ...uint32) []byte {
		b := make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(b[4*i:], x)
		}
		return b
	}
	doubles := func(v ...float64) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return b
	}
	repeat := func(v uint16) []uint16 {
		out := make([]uint16, r.Bands)
		for i := range out {
			out[i] = v
		}
		return out
	}

	const pixOffset = 8
	entries := []outEntry{
		{tagImageWidth, dtLong, 1, longs(uint32(r.Width))},
		{tagImageLength, dtLong, 1, longs(uint32(r.Height))},
		{tagBitsPerSample, dtShort, uint32(r.Bands), shorts(repeat(32)...)},
		{tagCompression, dtShort, 1, shorts(compression)},
		{tagPhotometric, dtShort, 1, shorts(1)},
		{tagStripOffsets, dtLong, 1, longs(pixOffset)},
		{tagSamplesPerPixel, dtShort, 1, shorts(uint16(r.Bands))},
		{tagRowsPerStrip, dtLong, 1, longs(uint32(r.Height))},
		{tagStripByteCounts, dtLong, 1, longs(uint32(len(pix)))},
		{tagPlanarConfig, dtShort, 1, shorts(1)},
		{tagSampleFormat, dtShort, uint32(r.Bands), shorts(repeat(sampleFloat)...)},
	}
	if r.Bands > 1 {
		entries = append(entries, outEntry{tagExtraSamples, dtShort, uint32(r.Bands - 1), shorts(make([]uint16, r.Bands-1)...)})
	}
	if r.Geo != nil {
		g := r.Geo
		entries = append(entries,
			outEntry{tagModelPixelScale, dtDouble, 3, doubles(g.PixelWidth, g.PixelHeight, 0)},
			outEntry{tagModelTiepoint, dtDouble, 6, doubles(0, 0, 0, g.OriginX, g.OriginY, 0)},
		)
	}
	if r.NoData != nil {
		s := strconv.FormatFloat(*r.NoData, 'g', -1, 64) + "\x00"
		entries = append(entries, outEntry{tagGDALNoData, dtASCII, uint32(len(s)), []byte(s)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Pixel data directly follows the header; the IFD follows the pixels
	// (word aligned) and out-of-line tag payloads follow the IFD.
	ifdOffset := pixOffset + len(pix)
	pad := ifdOffset % 2
	ifdOffset += pad
	extraOffset := ifdOffset + 2 + 12*len(entries) + 4

	var ifd, extra bytes.Buffer
	ifd.Write(shorts(uint16(len(entries))))
	for _, e := range entries {
		var rec [12]byte
		le.PutUint16(rec[0:], e.tag)
		le.PutUint16(rec[2:], e.typ)
		le.PutUint32(rec[4:], e.count)
		if len(e.data) <= 4 {
			copy(rec[8:], e.data)
		} else {
			le.PutUint32(rec[8:], uint32(extraOffset+extra.Len()))
			extra.Write(e.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
		ifd.Write(rec[:])
	}
	ifd.Write(longs(0))

	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	le.PutUint32(header[4:], uint32(ifdOffset))
	for _, chunk := range [][]byte{header, pix, make([]byte, pad), ifd.Bytes(), extra.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write raster: %w", err)
		}
	}
	return nil
}
