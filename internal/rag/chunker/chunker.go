// Package chunker splits source documents into catalog chunks for ingestion.
package chunker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/groundwork/internal/rag/catalog"
)

// Config controls chunk sizes, measured in bytes.
type Config struct {
	// ChunkSize is the target size of each chunk.
	// Default: 1000
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is how much trailing text of a chunk is repeated at the
	// start of the next one.
	// Default: 200
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MinChunkSize merges smaller trailing chunks into their predecessor.
	// Default: 100
	MinChunkSize int `yaml:"min_chunk_size"`
}

// DefaultConfig returns the default chunker configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 100,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaults.ChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = defaults.MinChunkSize
	}
	if c.MinChunkSize > c.ChunkSize {
		c.MinChunkSize = c.ChunkSize
	}
	return c
}

// DefaultSeparators is tried in order, from paragraphs down to characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ": ", ", ", " ", ""}

// MarkdownSeparators prefers heading boundaries.
var MarkdownSeparators = []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n", ". ", " ", ""}

// Splitter is a recursive character splitter: it splits on the largest
// separator present, recurses into oversized pieces with the next one, and
// packs the pieces back into chunks of at most ChunkSize.
type Splitter struct {
	config     Config
	separators []string
	markdown   bool
}

// NewRecursiveSplitter returns a splitter for plain text.
func NewRecursiveSplitter(cfg Config) *Splitter {
	return &Splitter{config: cfg.normalized(), separators: DefaultSeparators}
}

// NewMarkdownSplitter returns a splitter that drops YAML frontmatter and
// prefers heading boundaries.
func NewMarkdownSplitter(cfg Config) *Splitter {
	return &Splitter{config: cfg.normalized(), separators: MarkdownSeparators, markdown: true}
}

// ForFile picks a splitter by file extension.
func ForFile(name string, cfg Config) *Splitter {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return NewMarkdownSplitter(cfg)
	default:
		return NewRecursiveSplitter(cfg)
	}
}

// Split returns the chunk texts of text, in document order.
func (s *Splitter) Split(text string) []string {
	if s.markdown {
		text = stripFrontmatter(text)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.mergeSmall(s.split(text, s.separators))
}

// Chunks splits text and labels each chunk with source. IDs are derived
// from the source and chunk position, so re-ingesting a document replaces
// its chunks.
func (s *Splitter) Chunks(source, text string) []catalog.Chunk {
	parts := s.Split(text)
	chunks := make([]catalog.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, catalog.Chunk{
			ID:     fmt.Sprintf("%s#%04d", source, i),
			Text:   part,
			Source: source,
		})
	}
	return chunks
}

func (s *Splitter) split(text string, separators []string) []string {
	var (
		separator string
		rest      []string
	)
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		// Heading separators open the next piece; the rest close the
		// previous one.
		leading := strings.HasPrefix(strings.TrimLeft(separator, "\n"), "#")
		parts := strings.Split(text, separator)
		for i, part := range parts {
			switch {
			case leading && i > 0:
				part = separator + part
			case !leading && i < len(parts)-1:
				part += separator
			}
			if part != "" {
				pieces = append(pieces, part)
			}
		}
	}

	var out, fitting []string
	for _, piece := range pieces {
		if len(piece) <= s.config.ChunkSize || len(rest) == 0 {
			fitting = append(fitting, piece)
			continue
		}
		out = append(out, s.pack(fitting)...)
		fitting = nil
		out = append(out, s.split(piece, rest)...)
	}
	return append(out, s.pack(fitting)...)
}

// pack joins consecutive pieces into chunks no larger than ChunkSize,
// carrying up to ChunkOverlap bytes of whole pieces into the next chunk.
func (s *Splitter) pack(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	emit := func() {
		if text := strings.TrimSpace(strings.Join(current, "")); text != "" {
			out = append(out, text)
		}
	}
	for _, piece := range pieces {
		if total+len(piece) > s.config.ChunkSize && len(current) > 0 {
			emit()
			for len(current) > 0 && (total > s.config.ChunkOverlap || total+len(piece) > s.config.ChunkSize) {
				total -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += len(piece)
	}
	if len(current) > 0 {
		emit()
	}
	return out
}

func (s *Splitter) mergeSmall(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk) < s.config.MinChunkSize && len(out) > 0 &&
			len(out[len(out)-1])+len(chunk)+1 <= s.config.ChunkSize {
			out[len(out)-1] += "\n" + chunk
			continue
		}
		out = append(out, chunk)
	}
	return out
}

// stripFrontmatter removes a leading "---" delimited YAML block.
func stripFrontmatter(content string) string {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return content
	}
	lines := strings.Split(trimmed, "\n")
	for i := 1; i < len(lines); i++ {
		if line := strings.TrimSpace(lines[i]); line == "---" || line == "..." {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return content
}

// SupportedExtensions are the document types ChunkFiles reads.
var SupportedExtensions = []string{".md", ".markdown", ".txt"}

// ChunkFiles reads every supported document under paths (files or
// directories, walked recursively) and chunks it. The source of each chunk
// is the document's base file name.
func ChunkFiles(paths []string, cfg Config) ([]catalog.Chunk, error) {
	files, err := collectFiles(paths)
	if err != nil {
		return nil, err
	}
	var chunks []catalog.Chunk
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		chunks = append(chunks, ForFile(file, cfg).Chunks(filepath.Base(file), string(data))...)
	}
	return chunks, nil
}

func collectFiles(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && supported(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}
