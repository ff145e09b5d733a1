package ai

import (
	"github.com/pkg/errors"

	"github.com/openclaw/cortex/internal/profile"
)

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// NewEmbeddingConfigFromProfile creates embedding config from profile.
func NewEmbeddingConfigFromProfile(p *profile.Profile) *EmbeddingConfig {
	return &EmbeddingConfig{
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDimensions,
	}
}

// Validate validates the embedding config.
func (c *EmbeddingConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("embedding API key is required")
	}
	if c.Model == "" {
		return errors.New("embedding model is required")
	}
	if c.Dimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions: %d", c.Dimensions)
	}
	return nil
}
