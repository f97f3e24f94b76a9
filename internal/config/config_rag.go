package config

// RAGConfig configures knowledge retrieval.
type RAGConfig struct {
	// Enabled registers the retrieve_knowledge_base tool.
	Enabled bool `yaml:"enabled"`

	// TopK is the number of facts returned per query. Default: 5.
	TopK int `yaml:"top_k"`

	// MinScore drops facts with a lower relevance score.
	MinScore float64 `yaml:"min_score"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Store      VectorStoreConfig `yaml:"store"`
	Catalog    CatalogConfig     `yaml:"catalog"`
	Chunking   ChunkingConfig    `yaml:"chunking"`
}

type EmbeddingsConfig struct {
	// Provider is openai or google. Default: openai.
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

type VectorStoreConfig struct {
	// Backend is sqlite or pgvector. Default: sqlite.
	Backend    string `yaml:"backend"`
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`

	// Dimension defaults to the embedder's dimension.
	Dimension int `yaml:"dimension"`
}

// CatalogConfig locates the chunk catalog. Path wins over S3.
type CatalogConfig struct {
	Path string         `yaml:"path"`
	S3   S3ObjectConfig `yaml:"s3"`
}

type S3ObjectConfig struct {
	Bucket   string `yaml:"bucket"`
	Key      string `yaml:"key"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// ChunkingConfig sizes the chunks produced when ingesting documents.
type ChunkingConfig struct {
	// ChunkSize in bytes. Default: 1000.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap in bytes. Default: 200.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MinChunkSize merges smaller tails into the previous chunk. Default: 100.
	MinChunkSize int `yaml:"min_chunk_size"`
}
