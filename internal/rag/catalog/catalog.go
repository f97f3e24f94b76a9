// Package catalog holds the chunk catalog: the mapping from a vector ID to
// the chunk text and the name of the document it came from.
//
// Vector indexes only return IDs and scores. The catalog is joined against
// those IDs to produce fact records.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidChunk indicates a chunk without an ID or text.
var ErrInvalidChunk = errors.New("invalid chunk")

// Chunk is one retrievable passage.
type Chunk struct {
	ID     string `json:"id"`
	Text   string `json:"chunk_text"`
	Source string `json:"source_document_name"`
}

// Validate checks the fields required to index and cite a chunk.
func (c Chunk) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidChunk)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: chunk %s has no text", ErrInvalidChunk, c.ID)
	}
	return nil
}

// Catalog is an in-memory chunk lookup table. It is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
}

// New returns a catalog containing chunks.
func New(chunks ...Chunk) *Catalog {
	c := &Catalog{chunks: make(map[string]Chunk, len(chunks))}
	c.Put(chunks...)
	return c
}

// Put adds or replaces chunks by ID.
func (c *Catalog) Put(chunks ...Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, chunk := range chunks {
		c.chunks[chunk.ID] = chunk
	}
}

// Get returns the chunks known for ids. Unknown IDs are absent from the result.
func (c *Catalog) Get(ids []string) map[string]Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	found := make(map[string]Chunk, len(ids))
	for _, id := range ids {
		if chunk, ok := c.chunks[id]; ok {
			found[id] = chunk
		}
	}
	return found
}

// Len returns the number of chunks.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks)
}

// Chunks returns all chunks ordered by ID.
func (c *Catalog) Chunks() []Chunk {
	c.mu.RLock()
	out := make([]Chunk, 0, len(c.chunks))
	for _, chunk := range c.chunks {
		out = append(out, chunk)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Decode reads a catalog document. Two layouts are accepted: an array of
// chunks, or an object keyed by chunk ID whose values omit the id field.
func Decode(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	chunks, err := parse(data)
	if err != nil {
		return nil, err
	}
	return New(chunks...), nil
}

// ReadChunks reads a chunk list in either catalog layout.
func ReadChunks(r io.Reader) ([]Chunk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	return parse(data)
}

func parse(data []byte) ([]Chunk, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	var chunks []Chunk
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &chunks); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
	} else {
		var keyed map[string]Chunk
		if err := json.Unmarshal(data, &keyed); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		chunks = make([]Chunk, 0, len(keyed))
		for id, chunk := range keyed {
			chunk.ID = id
			chunks = append(chunks, chunk)
		}
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })
	}

	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// Encode writes the catalog as an ID-ordered JSON array.
func (c *Catalog) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Chunks())
}

// LoadFile reads a catalog from a local JSON file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// WriteFile writes the catalog atomically to path.
func (c *Catalog) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := c.Encode(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
