package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Embedding provider configuration (OpenAI-compatible protocol).
	// Any compatible provider works: openai, siliconflow, ollama, etc.
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Vector index configuration.
	VectorBackend string // "chromem" (embedded, default) or "pgvector"
	VectorIndex   string // index/collection name

	// Identity configuration. The token secret is shared with the external
	// identity provider that issues bearer tokens.
	TokenSecret string

	// Allowed CORS origins, comma-separated. Empty means allow all.
	AllowedOrigins string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding provider is configured.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.EmbeddingAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingAPIKey = getEnvOrDefault("CORTEX_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("CORTEX_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingModel = getEnvOrDefault("CORTEX_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDimensions = getEnvOrDefaultInt("CORTEX_EMBEDDING_DIMENSIONS", 768)

	p.VectorBackend = getEnvOrDefault("CORTEX_VECTOR_BACKEND", "chromem")
	p.VectorIndex = getEnvOrDefault("CORTEX_VECTOR_INDEX", "cortex-memories")

	p.TokenSecret = getEnvOrDefault("CORTEX_TOKEN_SECRET", "")
	p.AllowedOrigins = getEnvOrDefault("CORTEX_ALLOWED_ORIGINS", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}

	if p.VectorBackend != "chromem" && p.VectorBackend != "pgvector" {
		return errors.Errorf("unsupported vector backend: %s", p.VectorBackend)
	}
	if p.VectorBackend == "pgvector" && p.Driver != "postgres" {
		return errors.New("pgvector backend requires the postgres driver")
	}
	if p.VectorIndex == "" {
		return errors.New("vector index name cannot be empty")
	}

	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions: %d", p.EmbeddingDimensions)
	}

	if p.Mode == "prod" && p.TokenSecret == "" {
		return errors.New("token secret is required in prod mode")
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("cortex_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile) + "?_loc=auto"
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	return nil
}
