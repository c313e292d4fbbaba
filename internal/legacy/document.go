// Package legacy models the v1 image metadata written into a legacy archive:
// per-layer json documents, the root manifest.json and the repositories index.
package legacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Keys this package inspects or rewrites.
const (
	KeyID      = "id"
	KeyParent  = "parent"
	KeyHistory = "history"
	KeyRootFS  = "rootfs"
)

// Document is a JSON object that keeps its key order and stores values as raw
// JSON, so fields this package does not know about are written back exactly
// as the registry sent them.
type Document struct {
	fields *orderedmap.OrderedMap[string, json.RawMessage]
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{fields: orderedmap.New[string, json.RawMessage]()}
}

// ParseDocument decodes a JSON object.
func ParseDocument(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("document is not a JSON object")
	}
	d := NewDocument()
	if err := json.Unmarshal(trimmed, d.fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// Keys returns the field names in document order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.fields.Get(key)
	return ok
}

// Raw returns the raw JSON value stored under key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	return d.fields.Get(key)
}

// Set stores v under key. Existing keys keep their position; new keys are appended.
func (d *Document) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	d.fields.Set(key, raw)
	return nil
}

// Delete removes key if present.
func (d *Document) Delete(key string) {
	d.fields.Delete(key)
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := NewDocument()
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		c.fields.Set(pair.Key, bytes.Clone(pair.Value))
	}
	return c
}

// ID returns the id field, or "" when absent or not a string.
func (d *Document) ID() string {
	return d.stringField(KeyID)
}

// Parent returns the parent field, or "" when absent or not a string.
func (d *Document) Parent() string {
	return d.stringField(KeyParent)
}

// SetID sets the id field.
func (d *Document) SetID(id string) {
	d.setString(KeyID, id)
}

// SetParent sets the parent field.
func (d *Document) SetParent(parent string) {
	d.setString(KeyParent, parent)
}

// History returns the raw history field of an image config.
func (d *Document) History() (json.RawMessage, bool) {
	return d.fields.Get(KeyHistory)
}

// RootFS returns the raw rootfs field of an image config.
func (d *Document) RootFS() (json.RawMessage, bool) {
	return d.fields.Get(KeyRootFS)
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.fields.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDocument(data)
	if err != nil {
		return err
	}
	d.fields = parsed.fields
	return nil
}

func (d *Document) stringField(key string) string {
	raw, ok := d.fields.Get(key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (d *Document) setString(key, value string) {
	// Marshaling a string cannot fail.
	raw, _ := json.Marshal(value)
	d.fields.Set(key, raw)
}
