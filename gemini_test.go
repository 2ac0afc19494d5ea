package main

import (
	"context"
	"os"
	"testing"
)

func TestReviewMetadata(t *testing.T) {
	projectID := os.Getenv("GCP_PROJECT_ID")
	if projectID == "" {
		t.Skip("GCP_PROJECT_ID not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := NewGeminiClient(ctx, GeminiConfig{ProjectID: projectID})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()

	v, err := client.Review(ctx, Metadata{Link: "https://go.dev", Image: "https://go.dev/images/gophers/ladder.svg"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected go.dev to be allowed, got %+v", v)
	}
	t.Logf("Verdict: %+v", v)
}

func TestReviewSkipsEmptyMetadata(t *testing.T) {
	// No client needed: nothing to review.
	var g GeminiClient
	v, err := g.Review(context.Background(), Metadata{Color: DefaultInk})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allowed {
		t.Fatal("empty metadata should be allowed")
	}
}

func TestGeminiConfigRequiresCredentials(t *testing.T) {
	if (GeminiConfig{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
	if _, err := NewGeminiClient(context.Background(), GeminiConfig{}); err == nil {
		t.Fatal("expected error without project or API key")
	}
	if !(GeminiConfig{APIKey: "k"}).Enabled() {
		t.Fatal("API key alone should enable review")
	}
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(`{"allowed": false, "reason": "phishing"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Allowed || v.Reason != "phishing" {
		t.Fatalf("unexpected verdict %+v", v)
	}

	if _, err := parseVerdict(""); err == nil {
		t.Fatal("expected error for empty response")
	}
	if _, err := parseVerdict("not json"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
