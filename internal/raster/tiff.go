package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// TIFF tags read by the decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagExtraSamples    = 338
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var fieldSize = map[uint16]uint64{
	dtByte:      1,
	dtASCII:     1,
	dtShort:     2,
	dtLong:      4,
	dtRational:  8,
	dtSByte:     1,
	dtUndefined: 1,
	dtSShort:    2,
	dtSLong:     4,
	dtSRational: 8,
	dtFloat:     4,
	dtDouble:    8,
}

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionPackBits   = 32773
	compressionDeflateOld = 32946
)

// Predictors.
const (
	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3
)

// Sample formats.
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// maxFieldBytes bounds a single tag payload so a corrupt count cannot trigger
// a huge allocation.
const maxFieldBytes = 64 << 20

// maxSamples bounds the decoded image at 256 MiB of float32 samples.
const maxSamples = 1 << 26

type ifdEntry struct {
	typ   uint16
	count uint64
	raw   []byte
}

type decoder struct {
	r    io.ReaderAt
	bo   binary.ByteOrder
	tags map[uint16]ifdEntry

	width, height int
	samples       int
	bitsPerSample int
	sampleFormat  int
	compression   int
	predictor     int
	planar        int
}

// Decode reads the first image of a TIFF file into a Raster. All errors wrap
// ErrRead.
func Decode(r io.ReaderAt) (*Raster, error) {
	d := &decoder{r: r}
	if err := d.readHeader(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	if err := d.parseLayout(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	out, err := d.readPixels()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	d.readGeo(out)
	return out, nil
}

func (d *decoder) readHeader() error {
	var hdr [8]byte
	if _, err := d.r.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("failed to read header: %v", err)
	}
	switch string(hdr[0:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return fmt.Errorf("not a TIFF file")
	}
	switch d.bo.Uint16(hdr[2:4]) {
	case 42:
	case 43:
		return fmt.Errorf("BigTIFF is not supported")
	default:
		return fmt.Errorf("bad TIFF magic number")
	}

	ifdOffset := int64(d.bo.Uint32(hdr[4:8]))
	var cnt [2]byte
	if _, err := d.r.ReadAt(cnt[:], ifdOffset); err != nil {
		return fmt.Errorf("failed to read IFD: %v", err)
	}
	n := int(d.bo.Uint16(cnt[:]))
	entries := make([]byte, 12*n)
	if _, err := d.r.ReadAt(entries, ifdOffset+2); err != nil {
		return fmt.Errorf("failed to read IFD entries: %v", err)
	}

	d.tags = make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		e := entries[12*i : 12*(i+1)]
		tag := d.bo.Uint16(e[0:2])
		typ := d.bo.Uint16(e[2:4])
		count := uint64(d.bo.Uint32(e[4:8]))
		size, ok := fieldSize[typ]
		if !ok {
			// Readers must skip unknown field types.
			continue
		}
		total := size * count
		if total > maxFieldBytes {
			return fmt.Errorf("tag %d payload too large: %d bytes", tag, total)
		}
		var raw []byte
		if total <= 4 {
			raw = append([]byte(nil), e[8:8+total]...)
		} else {
			raw = make([]byte, total)
			if _, err := d.r.ReadAt(raw, int64(d.bo.Uint32(e[8:12]))); err != nil {
				return fmt.Errorf("failed to read tag %d payload: %v", tag, err)
			}
		}
		d.tags[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return nil
}

// uints returns an integer-typed tag as uint64 values.
func (d *decoder) uints(tag uint16) ([]uint64, bool, error) {
	e, ok := d.tags[tag]
	if !ok {
		return nil, false, nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.raw[i])
		case dtShort:
			out[i] = uint64(d.bo.Uint16(e.raw[2*i:]))
		case dtLong:
			out[i] = uint64(d.bo.Uint32(e.raw[4*i:]))
		default:
			return nil, true, fmt.Errorf("tag %d has non-integer type %d", tag, e.typ)
		}
	}
	return out, true, nil
}

// uint returns the first value of an integer tag, or def when absent.
func (d *decoder) uint(tag uint16, def int) (int, error) {
	v, ok, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if !ok || len(v) == 0 {
		return def, nil
	}
	return int(v[0]), nil
}

func (d *decoder) doubles(tag uint16) []float64 {
	e, ok := d.tags[tag]
	if !ok {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.bo.Uint64(e.raw[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(e.raw[4*i:])))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) ascii(tag uint16) (string, bool) {
	e, ok := d.tags[tag]
	if !ok || e.typ != dtASCII {
		return "", false
	}
	return strings.TrimRight(string(e.raw), "\x00"), true
}

func (d *decoder) parseLayout() error {
	var err error
	if d.width, err = d.uint(tagImageWidth, 0); err != nil {
		return err
	}
	if d.height, err = d.uint(tagImageLength, 0); err != nil {
		return err
	}
	if d.width <= 0 || d.height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", d.width, d.height)
	}
	if d.samples, err = d.uint(tagSamplesPerPixel, 1); err != nil {
		return err
	}
	if d.samples <= 0 {
		return fmt.Errorf("invalid samples per pixel %d", d.samples)
	}
	if !boundedProduct(maxSamples, d.samples, d.height, d.width) {
		return fmt.Errorf("image of %d bands at %dx%d exceeds %d samples", d.samples, d.width, d.height, maxSamples)
	}

	bps, ok, err := d.uints(tagBitsPerSample)
	if err != nil {
		return err
	}
	if !ok || len(bps) == 0 {
		bps = []uint64{1}
	}
	for _, b := range bps[1:] {
		if b != bps[0] {
			return fmt.Errorf("mixed bits per sample %v", bps)
		}
	}
	d.bitsPerSample = int(bps[0])

	if d.sampleFormat, err = d.uint(tagSampleFormat, sampleUint); err != nil {
		return err
	}
	switch d.sampleFormat {
	case sampleUint, sampleInt:
		switch d.bitsPerSample {
		case 8, 16, 32, 64:
		default:
			return fmt.Errorf("unsupported integer sample size %d", d.bitsPerSample)
		}
	case sampleFloat:
		if d.bitsPerSample != 32 && d.bitsPerSample != 64 {
			return fmt.Errorf("unsupported float sample size %d", d.bitsPerSample)
		}
	default:
		return fmt.Errorf("unsupported sample format %d", d.sampleFormat)
	}

	if d.compression, err = d.uint(tagCompression, compressionNone); err != nil {
		return err
	}
	switch d.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld, compressionPackBits:
	default:
		return fmt.Errorf("unsupported compression %d", d.compression)
	}

	if d.predictor, err = d.uint(tagPredictor, predictorNone); err != nil {
		return err
	}
	switch d.predictor {
	case predictorNone:
	case predictorHorizontal:
		if d.sampleFormat == sampleFloat {
			return fmt.Errorf("horizontal predictor on float samples")
		}
	case predictorFloat:
		if d.sampleFormat != sampleFloat {
			return fmt.Errorf("floating point predictor on integer samples")
		}
	default:
		return fmt.Errorf("unsupported predictor %d", d.predictor)
	}

	if d.planar, err = d.uint(tagPlanarConfig, 1); err != nil {
		return err
	}
	if d.planar != 1 && d.planar != 2 {
		return fmt.Errorf("unsupported planar configuration %d", d.planar)
	}
	return nil
}

// chunkLayout describes how the image is cut into strips or tiles.
type chunkLayout struct {
	width, height int // chunk size in pixels
	across, down  int // chunks per plane
	planes        int
	offsets       []uint64
	counts        []uint64
	tiled         bool
}

func (d *decoder) layout() (*chunkLayout, error) {
	l := &chunkLayout{planes: 1}
	if d.planar == 2 {
		l.planes = d.samples
	}

	var offTag, cntTag uint16
	if _, tiled := d.tags[tagTileWidth]; tiled {
		tw, err := d.uint(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := d.uint(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw <= 0 || th <= 0 {
			return nil, fmt.Errorf("invalid tile size %dx%d", tw, th)
		}
		if !boundedProduct(maxFieldBytes, tw, th, d.samplesPerChunkPixel(), d.bitsPerSample/8) {
			return nil, fmt.Errorf("tile size %dx%d too large", tw, th)
		}
		l.width, l.height, l.tiled = tw, th, true
		offTag, cntTag = tagTileOffsets, tagTileByteCounts
	} else {
		rps, err := d.uint(tagRowsPerStrip, d.height)
		if err != nil {
			return nil, err
		}
		if rps <= 0 || rps > d.height {
			rps = d.height
		}
		l.width, l.height = d.width, rps
		offTag, cntTag = tagStripOffsets, tagStripByteCounts
	}
	l.across = (d.width + l.width - 1) / l.width
	l.down = (d.height + l.height - 1) / l.height

	n := l.across * l.down * l.planes
	offsets, ok, err := d.uints(offTag)
	if err != nil {
		return nil, err
	}
	if !ok || len(offsets) < n {
		return nil, fmt.Errorf("expected %d chunk offsets, found %d", n, len(offsets))
	}
	counts, ok, err := d.uints(cntTag)
	if err != nil {
		return nil, err
	}
	if !ok {
		if d.compression != compressionNone {
			return nil, fmt.Errorf("missing chunk byte counts")
		}
		counts = make([]uint64, n)
		for i := range counts {
			counts[i] = uint64(d.chunkBytes(l, i))
		}
	}
	if len(counts) < n {
		return nil, fmt.Errorf("expected %d chunk byte counts, found %d", n, len(counts))
	}

	size, sized := readerSize(d.r)
	for i := 0; i < n; i++ {
		if counts[i] > maxFieldBytes {
			return nil, fmt.Errorf("chunk %d too large: %d bytes", i, counts[i])
		}
		if sized && (offsets[i] > uint64(size) || counts[i] > uint64(size)-offsets[i]) {
			return nil, fmt.Errorf("chunk %d at offset %d with %d bytes runs past end of file (%d bytes)", i, offsets[i], counts[i], size)
		}
		if d.compression == compressionNone && counts[i] < uint64(d.chunkBytes(l, i)) {
			return nil, fmt.Errorf("short chunk %d: %d bytes, want %d", i, counts[i], d.chunkBytes(l, i))
		}
	}
	l.offsets, l.counts = offsets, counts
	return l, nil
}

// boundedProduct reports whether the product of non-negative dims stays
// within limit, without overflowing.
func boundedProduct(limit int, dims ...int) bool {
	p := 1
	for _, v := range dims {
		if v < 0 {
			return false
		}
		if v != 0 && p > limit/v {
			return false
		}
		p *= v
	}
	return true
}

// readerSize reports the length of r when it can tell.
func readerSize(r io.ReaderAt) (int64, bool) {
	switch v := r.(type) {
	case interface{ Size() int64 }:
		return v.Size(), true
	case interface{ Stat() (os.FileInfo, error) }:
		if fi, err := v.Stat(); err == nil {
			return fi.Size(), true
		}
	}
	return 0, false
}

// samplesPerChunkPixel is the number of interleaved samples per pixel inside a chunk.
func (d *decoder) samplesPerChunkPixel() int {
	if d.planar == 2 {
		return 1
	}
	return d.samples
}

// chunkRows returns how many rows chunk i holds. Tiles are always full size;
// the last strip may be short.
func (d *decoder) chunkRows(l *chunkLayout, i int) int {
	if l.tiled {
		return l.height
	}
	ty := (i % (l.across * l.down)) / l.across
	return min(l.height, d.height-ty*l.height)
}

func (d *decoder) rowBytes(l *chunkLayout) int {
	return l.width * d.samplesPerChunkPixel() * d.bitsPerSample / 8
}

func (d *decoder) chunkBytes(l *chunkLayout, i int) int {
	return d.chunkRows(l, i) * d.rowBytes(l)
}

func (d *decoder) readPixels() (*Raster, error) {
	l, err := d.layout()
	if err != nil {
		return nil, err
	}

	out := New(d.samples, d.height, d.width)
	spp := d.samplesPerChunkPixel()
	bytesPerSample := d.bitsPerSample / 8
	perPlane := l.across * l.down

	for i := 0; i < perPlane*l.planes; i++ {
		want := d.chunkBytes(l, i)
		raw := make([]byte, l.counts[i])
		if n, err := d.r.ReadAt(raw, int64(l.offsets[i])); n < len(raw) {
			return nil, fmt.Errorf("failed to read chunk %d: got %d of %d bytes: %v", i, n, len(raw), err)
		}
		data, err := d.decompress(raw, want)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %v", i, err)
		}
		rows := d.chunkRows(l, i)
		rowBytes := d.rowBytes(l)
		for r := 0; r < rows; r++ {
			if err := d.undoPredictor(data[r*rowBytes:(r+1)*rowBytes], spp); err != nil {
				return nil, err
			}
		}

		plane := i / perPlane
		ty := (i % perPlane) / l.across
		tx := (i % perPlane) % l.across
		for r := 0; r < rows; r++ {
			y := ty*l.height + r
			if y >= d.height {
				break
			}
			row := data[r*rowBytes:]
			for c := 0; c < l.width; c++ {
				x := tx*l.width + c
				if x >= d.width {
					break
				}
				for s := 0; s < spp; s++ {
					band := s
					if d.planar == 2 {
						band = plane
					}
					off := (c*spp + s) * bytesPerSample
					out.Data[out.index(band, y, x)] = d.sample(row[off:])
				}
			}
		}
	}
	return out, nil
}

func (d *decoder) decompress(raw []byte, want int) ([]byte, error) {
	var rc io.Reader
	switch d.compression {
	case compressionNone:
		if len(raw) < want {
			return nil, fmt.Errorf("short chunk: %d bytes, want %d", len(raw), want)
		}
		return raw, nil
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer lr.Close()
		rc = lr
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %v", err)
		}
		defer zr.Close()
		rc = zr
	case compressionPackBits:
		out, err := unpackBits(raw, want)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	out := make([]byte, want)
	if _, err := io.ReadFull(rc, out); err != nil {
		return nil, fmt.Errorf("decompress: %v", err)
	}
	return out, nil
}

// unpackBits decodes Apple PackBits run-length data.
func unpackBits(src []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(src) && len(out) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, fmt.Errorf("packbits: literal run overflows input")
			}
			out = append(out, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, fmt.Errorf("packbits: repeat run overflows input")
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, src[i])
			}
			i++
		}
	}
	if len(out) < want {
		return nil, fmt.Errorf("packbits: short chunk: %d bytes, want %d", len(out), want)
	}
	return out[:want], nil
}

// undoPredictor reverses the predictor on one row of a chunk in place.
func (d *decoder) undoPredictor(row []byte, spp int) error {
	switch d.predictor {
	case predictorHorizontal:
		bytesPerSample := d.bitsPerSample / 8
		n := len(row) / bytesPerSample
		for i := spp; i < n; i++ {
			cur := row[i*bytesPerSample:]
			prev := row[(i-spp)*bytesPerSample:]
			switch bytesPerSample {
			case 1:
				cur[0] += prev[0]
			case 2:
				d.bo.PutUint16(cur, d.bo.Uint16(cur)+d.bo.Uint16(prev))
			case 4:
				d.bo.PutUint32(cur, d.bo.Uint32(cur)+d.bo.Uint32(prev))
			case 8:
				d.bo.PutUint64(cur, d.bo.Uint64(cur)+d.bo.Uint64(prev))
			}
		}
	case predictorFloat:
		// Bytes are differenced across the row, then stored grouped by
		// significance: all most significant bytes first.
		for i := spp; i < len(row); i++ {
			row[i] += row[i-spp]
		}
		bytesPerSample := d.bitsPerSample / 8
		wc := len(row) / bytesPerSample
		tmp := make([]byte, len(row))
		copy(tmp, row)
		for i := 0; i < wc; i++ {
			for k := 0; k < bytesPerSample; k++ {
				b := tmp[k*wc+i]
				if d.bo == binary.ByteOrder(binary.BigEndian) {
					row[i*bytesPerSample+k] = b
				} else {
					row[i*bytesPerSample+bytesPerSample-1-k] = b
				}
			}
		}
	}
	return nil
}

// sample converts one stored sample to float32.
func (d *decoder) sample(b []byte) float32 {
	switch d.sampleFormat {
	case sampleFloat:
		if d.bitsPerSample == 32 {
			return math.Float32frombits(d.bo.Uint32(b))
		}
		return float32(math.Float64frombits(d.bo.Uint64(b)))
	case sampleInt:
		switch d.bitsPerSample {
		case 8:
			return float32(int8(b[0]))
		case 16:
			return float32(int16(d.bo.Uint16(b)))
		case 32:
			return float32(int32(d.bo.Uint32(b)))
		default:
			return float32(int64(d.bo.Uint64(b)))
		}
	default:
		switch d.bitsPerSample {
		case 8:
			return float32(b[0])
		case 16:
			return float32(d.bo.Uint16(b))
		case 32:
			return float32(d.bo.Uint32(b))
		default:
			return float32(d.bo.Uint64(b))
		}
	}
}

func (d *decoder) readGeo(out *Raster) {
	scale := d.doubles(tagModelPixelScale)
	tie := d.doubles(tagModelTiepoint)
	if len(scale) >= 2 && len(tie) >= 6 {
		out.Geo = &GeoTransform{
			OriginX:     tie[3] - tie[0]*scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelWidth:  scale[0],
			PixelHeight: scale[1],
		}
	}
	if s, ok := d.ascii(tagGDALNoData); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			out.NoData = &v
		}
	}
}
