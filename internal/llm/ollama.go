package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

var (
	// ErrBackendUnavailable means the model server could not be reached or
	// failed on its side; the request may succeed later.
	ErrBackendUnavailable = errors.New("language model backend unavailable")
	// ErrMalformedOutput means the backend answered without usable text
	ErrMalformedOutput = errors.New("malformed language model output")
)

// ChatModel turns a rendered prompt into model text
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaLLM handles interactions with the Ollama LLM API
type OllamaLLM struct {
	Client      *api.Client
	Model       string
	Temperature float64
}

// NewOllamaLLM creates a new Ollama LLM client for baseURL
func NewOllamaLLM(baseURL string, model string, temperature float64) (*OllamaLLM, error) {
	hostURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	client := api.NewClient(hostURL, http.DefaultClient)

	return &OllamaLLM{
		Client:      client,
		Model:       model,
		Temperature: temperature,
	}, nil
}

// Ping checks that the Ollama server answers
func (o *OllamaLLM) Ping(ctx context.Context) error {
	if err := o.Client.Heartbeat(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Generate sends prompt as a single user message and returns the reply.
// Calls are not retried.
func (o *OllamaLLM) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := api.ChatRequest{
		Model: o.Model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": o.Temperature,
		},
	}

	var responseBuilder strings.Builder
	err := o.Client.Chat(ctx, &req, func(resp api.ChatResponse) error {
		_, err := responseBuilder.WriteString(resp.Message.Content)
		return err
	})
	if err != nil {
		return "", classify(err)
	}

	answer := responseBuilder.String()
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty response from %s", ErrMalformedOutput, o.Model)
	}
	return answer, nil
}

// classify wraps transport failures and server-side errors as
// ErrBackendUnavailable and everything else as a generic failure.
func classify(err error) error {
	if Unreachable(err) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return fmt.Errorf("failed to generate response: %w", err)
}

// Unreachable reports whether err from the Ollama client means the server
// could not be reached, timed out or failed on its side.
func Unreachable(err error) bool {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded)
}
