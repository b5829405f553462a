package wal

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/vedmalex/collection-store/pkg/config"
)

// minCompressionRatio is the gate below which an entry is stored plain
// rather than compressed: it must shrink by at least this ratio.
const minCompressionRatio = 1.05

// Codec implements the Compression Codec. It size-optimises the
// WALEntry's Data payload only; every other field stays plain so the
// Log Store and Recovery Engine never need to know an entry is
// compressed until they inspect its Data.
type Codec struct {
	cfg config.CompressionConfig
}

// NewCodec builds a Codec from the given configuration.
func NewCodec(cfg config.CompressionConfig) *Codec {
	return &Codec{cfg: cfg}
}

// CompressionStats is the aggregate returned by Stats.
type CompressionStats struct {
	TotalEntries            int
	CompressedEntries       int
	CompressionRate         float64
	TotalOriginalSize       int64
	TotalCompressedSize     int64
	AverageCompressionRatio float64
	SpaceSaved              int64
}

// Compress returns either e unchanged or a *CompressedEntry. It stays
// plain when the algorithm is none, the payload is below the
// configured threshold, the achieved ratio falls below
// minCompressionRatio, or the codec itself errors (logged here, never
// propagated to the caller).
func (c *Codec) Compress(e *WALEntry) (interface{}, error) {
	if c.cfg.Algorithm == config.CompressionNone || c.cfg.Algorithm == "" {
		return e, nil
	}

	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("wal: marshal payload for compression: %w", err)
	}
	originalSize := len(payload)
	if originalSize == 0 || originalSize < c.cfg.Threshold {
		return e, nil
	}

	compressed, err := c.encode(payload)
	if err != nil {
		log.Printf("wal: compression codec %s failed, storing entry plain: %v", c.cfg.Algorithm, err)
		return e, nil
	}

	compressedSize := len(compressed)
	if compressedSize == 0 {
		return e, nil
	}
	ratio := float64(originalSize) / float64(compressedSize)
	if ratio < minCompressionRatio {
		return e, nil
	}

	return &CompressedEntry{
		TransactionID:        e.TransactionID,
		SequenceNumber:       e.SequenceNumber,
		Timestamp:            e.Timestamp,
		Type:                 e.Type,
		CollectionName:       e.CollectionName,
		Operation:            e.Operation,
		Checksum:             e.Checksum,
		CompressedData:       base64.StdEncoding.EncodeToString(compressed),
		CompressionAlgorithm: string(c.cfg.Algorithm),
		OriginalSize:         originalSize,
		CompressedSize:       compressedSize,
		CompressionRatio:     ratio,
	}, nil
}

// Decompress accepts either a *WALEntry or a *CompressedEntry and
// returns a plain WALEntry. A *CompressedEntry that cannot be
// materialised is a hard error.
func (c *Codec) Decompress(v interface{}) (*WALEntry, error) {
	switch entry := v.(type) {
	case *WALEntry:
		return entry, nil
	case *CompressedEntry:
		raw, err := base64.StdEncoding.DecodeString(entry.CompressedData)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
		}
		payload, err := c.decode(entry.CompressionAlgorithm, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
		}
		var data EntryData
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecompressionFailure, err)
			}
		}
		return &WALEntry{
			TransactionID:  entry.TransactionID,
			SequenceNumber: entry.SequenceNumber,
			Timestamp:      entry.Timestamp,
			Type:           entry.Type,
			CollectionName: entry.CollectionName,
			Operation:      entry.Operation,
			Data:           data,
			Checksum:       entry.Checksum,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unrecognised entry form %T", ErrDecompressionFailure, v)
	}
}

// Stats aggregates compression effectiveness across a set of entries in
// whichever form they were stored.
func (c *Codec) Stats(entries []interface{}) CompressionStats {
	var stats CompressionStats
	stats.TotalEntries = len(entries)

	for _, v := range entries {
		switch entry := v.(type) {
		case *CompressedEntry:
			stats.CompressedEntries++
			stats.TotalOriginalSize += int64(entry.OriginalSize)
			stats.TotalCompressedSize += int64(entry.CompressedSize)
		case *WALEntry:
			payload, _ := json.Marshal(entry.Data)
			size := int64(len(payload))
			stats.TotalOriginalSize += size
			stats.TotalCompressedSize += size
		}
	}

	if stats.TotalEntries > 0 {
		stats.CompressionRate = float64(stats.CompressedEntries) / float64(stats.TotalEntries)
	}
	if stats.CompressedEntries > 0 {
		var ratioSum float64
		for _, v := range entries {
			if entry, ok := v.(*CompressedEntry); ok {
				ratioSum += entry.CompressionRatio
			}
		}
		stats.AverageCompressionRatio = ratioSum / float64(stats.CompressedEntries)
	}
	stats.SpaceSaved = stats.TotalOriginalSize - stats.TotalCompressedSize

	return stats
}

func (c *Codec) encode(payload []byte) ([]byte, error) {
	switch c.cfg.Algorithm {
	case config.CompressionGzip:
		var buf bytes.Buffer
		level := c.cfg.Level
		if level < 1 || level > 9 {
			level = kgzip.DefaultCompression
		}
		w, err := kgzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case config.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", c.cfg.Algorithm)
	}
}

func (c *Codec) decode(algorithm string, raw []byte) ([]byte, error) {
	switch config.CompressionAlgorithm(algorithm) {
	case config.CompressionGzip:
		r, err := kgzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case config.CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(raw))
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algorithm)
	}
}
