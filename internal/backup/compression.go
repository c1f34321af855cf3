package backup

import (
	"bytes"
	"compress/gzip"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionStats describes one Compress call
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	Duration         time.Duration   `json:"duration"`
}

// codec adapts one algorithm to streams. Levels outside [min, max] are replaced by def.
type codec struct {
	min, max, def int
	writer        func(w io.Writer, level int) (io.WriteCloser, error)
	reader        func(r io.Reader) (io.ReadCloser, error)
}

var codecs = map[CompressionType]codec{
	CompressionTypeGzip: {
		min: gzip.BestSpeed, max: gzip.BestCompression, def: 6,
		writer: func(w io.Writer, level int) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, level)
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	},
	CompressionTypeLZ4: {
		min: 1, max: 12, def: 1,
		writer: func(w io.Writer, level int) (io.WriteCloser, error) {
			zw := lz4.NewWriter(w)
			// lz4 frames only have fast and high-compression modes
			if level > 6 {
				if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
					return nil, err
				}
			}
			return zw, nil
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
	},
	CompressionTypeZstd: {
		min: 1, max: 22, def: 3,
		writer: func(w io.Writer, level int) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
		},
		reader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	},
}

// zstdLevel folds the numeric 1-22 scale onto the four encoder presets
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	}
	return zstd.SpeedBestCompression
}

// CompressionManager compresses artifact objects with gzip, lz4 or zstd
type CompressionManager struct {
	codecs map[CompressionType]codec
}

func NewCompressionManager() *CompressionManager {
	return &CompressionManager{codecs: codecs}
}

func isUncompressed(algorithm CompressionType) bool {
	return algorithm == "" || algorithm == CompressionTypeNone
}

func (cm *CompressionManager) lookup(algorithm CompressionType) (codec, error) {
	c, ok := cm.codecs[algorithm]
	if !ok {
		return codec{}, NewCompressionError("unsupported compression algorithm: "+string(algorithm), nil)
	}
	return c, nil
}

// Compress encodes data. An out-of-range level falls back to the algorithm default, and
// "none" returns data unchanged.
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	stats := &CompressionStats{
		OriginalSize:     int64(len(data)),
		CompressedSize:   int64(len(data)),
		CompressionRatio: 1,
		Algorithm:        CompressionTypeNone,
	}
	if isUncompressed(algorithm) {
		return data, stats, nil
	}

	c, err := cm.lookup(algorithm)
	if err != nil {
		return nil, nil, err
	}
	if level < c.min || level > c.max {
		level = c.def
	}

	start := time.Now()
	var buf bytes.Buffer
	w, err := c.writer(&buf, level)
	if err != nil {
		return nil, nil, NewCompressionError(string(algorithm)+": cannot create writer", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, nil, NewCompressionError(string(algorithm)+": write failed", err)
	}
	if err := w.Close(); err != nil {
		return nil, nil, NewCompressionError(string(algorithm)+": flush failed", err)
	}

	stats.Algorithm = algorithm
	stats.Level = level
	stats.CompressedSize = int64(buf.Len())
	stats.CompressionRatio = CalculateCompressionRatio(stats.OriginalSize, stats.CompressedSize)
	stats.Duration = time.Since(start)
	return buf.Bytes(), stats, nil
}

// Decompress reverses Compress
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if isUncompressed(algorithm) {
		return data, nil
	}

	c, err := cm.lookup(algorithm)
	if err != nil {
		return nil, err
	}
	r, err := c.reader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError(string(algorithm)+": invalid stream", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, NewCompressionError(string(algorithm)+": decompression failed", err)
	}
	return out, nil
}

// ShouldCompress reports whether a payload reaches the compression threshold
func (cm *CompressionManager) ShouldCompress(dataSize int64, threshold int64) bool {
	return dataSize >= threshold
}

// CalculateCompressionRatio is compressed/original, 1 for empty input
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1
	}
	return float64(compressedSize) / float64(originalSize)
}
