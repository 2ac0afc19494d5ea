package main

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const reviewPrompt = `Tu modères les pixels achetés sur une grille publicitaire publique.

Un acheteur veut afficher :
- lien : %q
- image : %q

Refuse si le lien ou l'image visent du contenu illégal, haineux, sexuel,
du hameçonnage ou un logiciel malveillant. Accepte tout le reste.

Réponds UNIQUEMENT avec le JSON suivant, sans commentaire ni markdown :
{"allowed": <true|false>, "reason": "<raison courte si refus>"}`

// Verdict is the answer of a metadata review.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Reviewer screens what a buyer wants to display before they pay.
type Reviewer interface {
	Review(ctx context.Context, m Metadata) (Verdict, error)
}

// Review asks Gemini whether the link and image of m may be displayed.
// Metadata without link or image is always allowed.
func (g *GeminiClient) Review(ctx context.Context, m Metadata) (Verdict, error) {
	if m.Link == "" && m.Image == "" {
		return Verdict{Allowed: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: fmt.Sprintf(reviewPrompt, m.Link, m.Image)},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return Verdict{}, fmt.Errorf("gemini generate: %w", err)
	}

	return parseVerdict(resp.Text())
}

func parseVerdict(text string) (Verdict, error) {
	if text == "" {
		return Verdict{}, fmt.Errorf("empty gemini response")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict JSON: %w\nraw response: %s", err, text)
	}
	return v, nil
}
