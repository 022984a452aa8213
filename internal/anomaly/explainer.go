package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Explainer produces a short natural-language explanation of an anomaly.
// Implementations must respect the context deadline; callers bound the
// call with a short timeout and degrade to no note on failure.
type Explainer interface {
	Explain(ctx context.Context, summary string) (string, error)
}

// Noop is used when no summarizer is configured. Entries are still
// flagged, they just carry no note.
type Noop struct{}

func (Noop) Explain(ctx context.Context, summary string) (string, error) {
	return "", errors.New("no explainer configured")
}

const defaultEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAI asks a chat-completions endpoint to explain an anomaly in two
// sentences or fewer.
type OpenAI struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewOpenAI creates an explainer against the OpenAI chat completions API.
// The HTTP client carries its own timeout as a backstop; callers should
// still pass a bounded context.
func NewOpenAI(apiKey, model string, logger zerolog.Logger) *OpenAI {
	if model == "" {
		model = "gpt-4.1"
	}
	return &OpenAI{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.With().Str("component", "explainer").Logger(),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Explain(ctx context.Context, summary string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a concise assistant analyzing video generation anomalies."},
			{Role: "user", Content: fmt.Sprintf("Explain this video generation anomaly in 2 sentences or fewer: %s", summary)},
		},
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completions returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat completions returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

var (
	_ Explainer = Noop{}
	_ Explainer = (*OpenAI)(nil)
)
