// Package embedding stores per-segment embedding vectors next to the
// detections database and links detections to their vector rows.
package embedding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/tphakala/birdnet-walker/internal/errors"
	"github.com/tphakala/birdnet-walker/internal/logger"
)

// File layout
//
//	header: magic[8] dims uint32 chunkRows uint32
//	frame:  rows uint32 payloadLen uint32 crc32 uint32 payload[payloadLen]
//
// The payload is a zstd compressed block of rows*dims little endian float32.
// A frame holds at most chunkRows rows. Frames are only ever appended.
var magic = [8]byte{'B', 'N', 'W', 'E', 'M', 'B', 0, 1}

const (
	headerSize      = 16
	frameHeaderSize = 12
)

// ErrDimensionMismatch is returned when appended rows or an existing file do
// not match the configured vector width.
var ErrDimensionMismatch = errors.NewStd("embedding dimension mismatch")

// StoreOptions configure a Store.
type StoreOptions struct {
	Dimensions       int
	ChunkRows        int
	CompressionLevel int // 1 fastest .. 4 best
}

type frame struct {
	offset   int64 // file offset of the frame header
	firstRow int64
	rows     int
}

// Store is an append-only matrix of float32 rows with a fixed width. Row
// indices are stable once Append has returned.
type Store struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	dims      int
	chunkRows int
	frames    []frame
	rows      int64
	size      int64 // end of the last valid frame

	enc *zstd.Encoder
	dec *zstd.Decoder

	// most recently decoded frame, Row calls tend to be sequential
	cachedFrame int
	cached      []float32

	log logger.Logger
}

func encoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level == 2:
		return zstd.SpeedDefault
	case level == 3:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func storeError(err error, op, path string) error {
	return errors.New(err).
		Component("embedding").
		Category(errors.CategoryEmbedding).
		Context("operation", op).
		Context("path", path).
		Build()
}

// OpenStore opens or creates the vector store at path. An existing file must
// have the configured width. A trailing frame that was only partially written
// is cut off and the loss is logged.
func OpenStore(path string, opts StoreOptions, log logger.Logger) (*Store, error) {
	if opts.Dimensions <= 0 {
		return nil, storeError(fmt.Errorf("dimensions must be positive, got %d", opts.Dimensions), "open", path)
	}
	if opts.ChunkRows <= 0 {
		return nil, storeError(fmt.Errorf("chunk rows must be positive, got %d", opts.ChunkRows), "open", path)
	}
	if log == nil {
		log = logger.Global().Module("embedding")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, storeError(err, "open", path)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel(opts.CompressionLevel)), zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, storeError(err, "open", path)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = enc.Close()
		_ = f.Close()
		return nil, storeError(err, "open", path)
	}

	s := &Store{
		path:        path,
		file:        f,
		dims:        opts.Dimensions,
		chunkRows:   opts.ChunkRows,
		enc:         enc,
		dec:         dec,
		cachedFrame: -1,
		log:         log,
	}
	if err := s.load(); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

// load writes a fresh header or validates the existing one and indexes frames.
func (s *Store) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return storeError(err, "stat", s.path)
	}
	if info.Size() == 0 {
		return s.writeHeader()
	}

	var hdr [headerSize]byte
	if _, err := s.file.ReadAt(hdr[:], 0); err != nil {
		return storeError(fmt.Errorf("reading header: %w", err), "open", s.path)
	}
	if !bytes.Equal(hdr[:8], magic[:]) {
		return storeError(fmt.Errorf("%s is not an embedding store", s.path), "open", s.path)
	}
	dims := int(binary.LittleEndian.Uint32(hdr[8:12]))
	if dims != s.dims {
		return storeError(fmt.Errorf("%w: file has %d, configured %d", ErrDimensionMismatch, dims, s.dims), "open", s.path)
	}
	// the frame size of an existing file wins over the configured one
	s.chunkRows = int(binary.LittleEndian.Uint32(hdr[12:16]))

	return s.scan(info.Size())
}

func (s *Store) writeHeader() error {
	var hdr [headerSize]byte
	copy(hdr[:8], magic[:])
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(s.dims))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(s.chunkRows))
	if _, err := s.file.WriteAt(hdr[:], 0); err != nil {
		return storeError(err, "write header", s.path)
	}
	if err := s.file.Sync(); err != nil {
		return storeError(err, "sync", s.path)
	}
	s.size = headerSize
	return nil
}

// scan walks the frame chain. A frame that runs past the end of the file, or
// the last frame failing its checksum, is treated as a torn write.
func (s *Store) scan(fileSize int64) error {
	offset := int64(headerSize)
	var fh [frameHeaderSize]byte

	for offset < fileSize {
		if fileSize-offset < frameHeaderSize {
			return s.truncateTorn(offset, fileSize)
		}
		if _, err := s.file.ReadAt(fh[:], offset); err != nil {
			return storeError(err, "scan", s.path)
		}
		rows := int(binary.LittleEndian.Uint32(fh[0:4]))
		payloadLen := int64(binary.LittleEndian.Uint32(fh[4:8]))
		sum := binary.LittleEndian.Uint32(fh[8:12])

		end := offset + frameHeaderSize + payloadLen
		if end > fileSize {
			return s.truncateTorn(offset, fileSize)
		}

		payload := make([]byte, payloadLen)
		if _, err := s.file.ReadAt(payload, offset+frameHeaderSize); err != nil {
			return storeError(err, "scan", s.path)
		}
		if crc32.ChecksumIEEE(payload) != sum || rows <= 0 || rows > s.chunkRows {
			if end == fileSize {
				return s.truncateTorn(offset, fileSize)
			}
			return storeError(fmt.Errorf("corrupt frame at offset %d", offset), "scan", s.path)
		}

		s.frames = append(s.frames, frame{offset: offset, firstRow: s.rows, rows: rows})
		s.rows += int64(rows)
		offset = end
	}
	s.size = offset
	return nil
}

func (s *Store) truncateTorn(offset, fileSize int64) error {
	s.log.Warn("truncating partially written embedding frame",
		logger.String("path", s.path),
		logger.Int64("offset", offset),
		logger.Int64("discarded_bytes", fileSize-offset),
		logger.Int64("rows", s.rows))
	if err := s.file.Truncate(offset); err != nil {
		return storeError(err, "truncate", s.path)
	}
	if err := s.file.Sync(); err != nil {
		return storeError(err, "sync", s.path)
	}
	s.size = offset
	return nil
}

// Dimensions returns the row width.
func (s *Store) Dimensions() int {
	return s.dims
}

// Len returns the number of rows in the store.
func (s *Store) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Append writes rows at the end of the store and returns the index of the
// first appended row. The data is synced to disk before Append returns. On
// error the store is left at its previous length.
func (s *Store) Append(rows [][]float32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, storeError(os.ErrClosed, "append", s.path)
	}
	for i, row := range rows {
		if len(row) != s.dims {
			return 0, storeError(fmt.Errorf("%w: row %d has %d values, want %d", ErrDimensionMismatch, i, len(row), s.dims), "append", s.path)
		}
	}

	offset := s.rows
	if len(rows) == 0 {
		return offset, nil
	}

	var buf bytes.Buffer
	var added []frame
	pos := s.size
	first := s.rows
	for start := 0; start < len(rows); start += s.chunkRows {
		chunk := rows[start:min(start+s.chunkRows, len(rows))]
		payload := s.enc.EncodeAll(encodeRows(chunk, s.dims), nil)

		var fh [frameHeaderSize]byte
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(chunk)))
		binary.LittleEndian.PutUint32(fh[4:8], uint32(len(payload)))
		binary.LittleEndian.PutUint32(fh[8:12], crc32.ChecksumIEEE(payload))
		buf.Write(fh[:])
		buf.Write(payload)

		added = append(added, frame{offset: pos, firstRow: first, rows: len(chunk)})
		pos += frameHeaderSize + int64(len(payload))
		first += int64(len(chunk))
	}

	if _, err := s.file.WriteAt(buf.Bytes(), s.size); err != nil {
		s.rollback()
		return 0, storeError(err, "append", s.path)
	}
	if err := s.file.Sync(); err != nil {
		s.rollback()
		return 0, storeError(err, "sync", s.path)
	}

	s.frames = append(s.frames, added...)
	s.rows = first
	s.size = pos
	return offset, nil
}

func (s *Store) rollback() {
	if err := s.file.Truncate(s.size); err != nil {
		s.log.Error("failed to roll back embedding append",
			logger.String("path", s.path),
			logger.Error(err))
	}
}

// Row returns a copy of row i.
func (s *Store) Row(i int64) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil, storeError(os.ErrClosed, "read", s.path)
	}
	if i < 0 || i >= s.rows {
		return nil, storeError(fmt.Errorf("row %d out of range [0, %d)", i, s.rows), "read", s.path)
	}

	fi := sort.Search(len(s.frames), func(k int) bool {
		return s.frames[k].firstRow+int64(s.frames[k].rows) > i
	})
	if fi != s.cachedFrame {
		values, err := s.readFrame(s.frames[fi])
		if err != nil {
			return nil, err
		}
		s.cached = values
		s.cachedFrame = fi
	}

	local := int(i-s.frames[fi].firstRow) * s.dims
	out := make([]float32, s.dims)
	copy(out, s.cached[local:local+s.dims])
	return out, nil
}

func (s *Store) readFrame(fr frame) ([]float32, error) {
	var fh [frameHeaderSize]byte
	if _, err := s.file.ReadAt(fh[:], fr.offset); err != nil {
		return nil, storeError(err, "read", s.path)
	}
	payload := make([]byte, binary.LittleEndian.Uint32(fh[4:8]))
	if _, err := s.file.ReadAt(payload, fr.offset+frameHeaderSize); err != nil && err != io.EOF {
		return nil, storeError(err, "read", s.path)
	}
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, storeError(fmt.Errorf("decompressing frame at offset %d: %w", fr.offset, err), "read", s.path)
	}
	if len(raw) != fr.rows*s.dims*4 {
		return nil, storeError(fmt.Errorf("frame at offset %d has %d bytes, want %d", fr.offset, len(raw), fr.rows*s.dims*4), "read", s.path)
	}
	return decodeRows(raw), nil
}

// Close syncs and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	s.release()
	if syncErr != nil {
		return storeError(syncErr, "close", s.path)
	}
	return nil
}

func (s *Store) release() {
	if s.enc != nil {
		_ = s.enc.Close()
	}
	if s.dec != nil {
		s.dec.Close()
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = nil
	s.cached = nil
	s.cachedFrame = -1
}

func encodeRows(rows [][]float32, dims int) []byte {
	out := make([]byte, len(rows)*dims*4)
	p := 0
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint32(out[p:], math.Float32bits(v))
			p += 4
		}
	}
	return out
}

func decodeRows(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
