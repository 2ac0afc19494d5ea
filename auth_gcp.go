package main

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	defaultRegion        = "europe-west1"
	defaultModel         = "gemini-2.5-flash"
	defaultReviewTimeout = 15 * time.Second
)

// GeminiConfig selects how the review client reaches Gemini. With a
// project it goes through VertexAI and Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS); with only an API key it uses the
// public Gemini API.
type GeminiConfig struct {
	ProjectID string
	Region    string
	APIKey    string
	Model     string
	Timeout   time.Duration
}

// Enabled reports whether enough is configured to build a client.
func (c GeminiConfig) Enabled() bool {
	return c.ProjectID != "" || c.APIKey != ""
}

// GeminiClient wraps the Google GenAI client used for metadata review.
type GeminiClient struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// NewGeminiClient creates a review client from cfg.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.ProjectID != "":
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.ProjectID
		cc.Location = cfg.Region
		if cc.Location == "" {
			cc.Location = defaultRegion
		}
	case cfg.APIKey != "":
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("gemini: project or API key required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	g := &GeminiClient{
		client:    client,
		modelName: cfg.Model,
		timeout:   cfg.Timeout,
	}
	if g.modelName == "" {
		g.modelName = defaultModel
	}
	if g.timeout <= 0 {
		g.timeout = defaultReviewTimeout
	}
	return g, nil
}

// Close releases resources held by the client.
func (g *GeminiClient) Close() error {
	return nil
}
