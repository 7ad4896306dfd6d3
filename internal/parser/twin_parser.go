package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Belphemur/TwinQuery/internal/models"
)

// TwinParser decodes twin documents from hub responses.
type TwinParser struct{}

// NewTwinParser creates a new TwinParser.
func NewTwinParser() *TwinParser {
	return &TwinParser{}
}

// Parse decodes a JSON array of query results. Elements that are not objects
// (for example scalar projections) are kept in TwinDocument.Raw only.
func (p *TwinParser) Parse(body io.Reader, contentType string) ([]models.TwinDocument, error) {
	reader, err := NewUTF8Reader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}

	var elements []json.RawMessage
	if err := json.NewDecoder(reader).Decode(&elements); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode result array: %w", err)
	}

	docs := make([]models.TwinDocument, 0, len(elements))
	for i, raw := range elements {
		doc, err := decodeTwin(raw)
		if err != nil {
			return nil, fmt.Errorf("decode result %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ParseOne decodes a single twin object.
func (p *TwinParser) ParseOne(body io.Reader, contentType string) (*models.TwinDocument, error) {
	reader, err := NewUTF8Reader(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(reader).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode twin: %w", err)
	}
	doc, err := decodeTwin(raw)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func decodeTwin(raw json.RawMessage) (models.TwinDocument, error) {
	trimmed := bytes.TrimSpace(raw)
	doc := models.TwinDocument{Raw: append(json.RawMessage(nil), trimmed...)}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return doc, nil
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return models.TwinDocument{}, err
	}
	return doc, nil
}
