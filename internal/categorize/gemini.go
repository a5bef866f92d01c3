package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClassifier implements Classifier against the Gemini API. It asks for
// a strict JSON array so responses can be decoded without post-processing,
// but still strips Markdown fences when the model ignores that instruction.
type GeminiClassifier struct {
	client     *genai.Client
	model      string
	categories []string
}

// NewGeminiClassifier creates a classifier using the given model and allowed
// category taxonomy. Credentials come from the environment (GEMINI_API_KEY
// or application default credentials).
func NewGeminiClassifier(ctx context.Context, model string, categories []string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClassifier: create genai client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model, categories: categories}, nil
}

// Classify implements Classifier.
func (g *GeminiClassifier) Classify(ctx context.Context, items []Item) ([]Result, error) {
	prompt := g.buildPrompt(items)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("GeminiClassifier.Classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("GeminiClassifier.Classify: empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var results []Result
	if err := json.Unmarshal([]byte(clean), &results); err != nil {
		return nil, fmt.Errorf("GeminiClassifier.Classify: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	for i := range results {
		results[i].Category = strings.ToLower(strings.TrimSpace(results[i].Category))
		if results[i].Confidence < 0 {
			results[i].Confidence = 0
		}
		if results[i].Confidence > 1 {
			results[i].Confidence = 1
		}
	}
	return results, nil
}

func (g *GeminiClassifier) buildPrompt(items []Item) string {
	var b strings.Builder

	b.WriteString("You are a personal finance transaction classifier.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Classify EVERY transaction listed below.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a JSON array with EXACTLY one object per transaction, in the same order.\n\n")
	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"category\": string (one of the allowed categories below)\n")
	b.WriteString("- \"tags\": array of short lowercase strings (may be empty)\n")
	b.WriteString("- \"confidence\": number between 0.0 and 1.0\n\n")

	b.WriteString("Allowed categories:\n")
	for _, c := range g.categories {
		b.WriteString("  - " + c + "\n")
	}
	b.WriteString("\nIf you are unsure, use category \"" + FallbackCategory + "\" with confidence 0.0.\n\n")

	b.WriteString("Transactions:\n")
	for i, it := range items {
		fmt.Fprintf(&b, "%d. description=%q counterparty=%q amount=%s\n",
			i+1, it.Description, it.Counterparty, it.Amount.StringFixed(2))
	}

	b.WriteString("\nReturn ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n")

	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
