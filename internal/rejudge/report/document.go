package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"rejudge/internal/rejudge/model"

	"github.com/klauspost/compress/zstd"
)

// ContentType is the media type of an encoded Document.
const ContentType = "application/zstd"

// Document is the archived outcome of a finalized rejudging.
type Document struct {
	Rejudging   model.Rejudging `json:"rejudging"`
	Todo        model.Todo      `json:"todo"`
	Matrix      *MatrixView     `json:"matrix"`
	Stats       *GroupStats     `json:"stats,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Encode serializes the document as zstd-compressed JSON.
func Encode(doc *Document) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal report failed: %w", err)
	}
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	if _, err := encoder.Write(payload); err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("compress report failed: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("compress report failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*Document, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	defer decoder.Close()
	payload, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress report failed: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal report failed: %w", err)
	}
	return &doc, nil
}
