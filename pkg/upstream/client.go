package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/synod-run/synod/pkg/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxRetries   = 1 // one retry attempt, two total, grounded on openrouter.py MAX_RETRIES
	retryDelay   = time.Second
	dialTimeout  = 10 * time.Second
	callTimeout  = 120 * time.Second
	maxKeepalive = 20
	maxConns     = 100
)

// Client is the shared, pooled HTTP client used for every upstream call.
// Built once at process startup and handed to pkg/pipeline's Scheduler,
// generalizing the original's module-level httpx.AsyncClient singleton into
// an explicit, injectable field.
type Client struct {
	http      *http.Client
	providers *config.Config
}

func NewClient(providers *config.Config) *Client {
	transport := otelhttp.NewTransport(&http.Transport{
		DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
		MaxIdleConnsPerHost: maxKeepalive,
		MaxConnsPerHost:     maxConns,
	})
	return &Client{
		http: &http.Client{
			Timeout:   callTimeout,
			Transport: transport,
		},
		providers: providers,
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Call performs a single unary request against endpoint, retrying once on a
// retryable status code or network error with exponential backoff.
func (c *Client) Call(ctx context.Context, endpoint string, messages []Message) (Answer, error) {
	provider, err := c.providers.Provider(endpoint)
	if err != nil {
		return Answer{}, &Error{Endpoint: endpoint, Kind: KindFatal, Err: err}
	}

	body, err := json.Marshal(chatRequest{Model: provider.Model, Messages: messages})
	if err != nil {
		return Answer{}, &Error{Endpoint: endpoint, Kind: KindFatal, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := c.do(ctx, provider, body)
		if err == nil {
			content, perr := parseChatResponse(resp)
			if perr != nil {
				return Answer{}, &Error{Endpoint: endpoint, Kind: KindFatal, Err: perr}
			}
			return Answer{Endpoint: endpoint, Content: content}, nil
		}

		upErr, ok := err.(*Error)
		if !ok {
			upErr = &Error{Endpoint: endpoint, Kind: KindNetwork, Err: err}
		}
		lastErr = upErr

		if !upErr.Retryable() || attempt == maxRetries {
			return Answer{}, upErr
		}
		delay := retryDelay * time.Duration(1<<attempt)
		slog.Warn("retrying upstream call", "endpoint", endpoint, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return Answer{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return Answer{}, lastErr
}

func (c *Client) do(ctx context.Context, provider *config.LLMProviderConfig, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Endpoint: provider.ID, Kind: KindFatal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+os.Getenv(provider.APIKeyEnv))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: provider.ID, Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		kind := KindFatal
		if IsRetryableStatus(resp.StatusCode) {
			kind = KindRetryableStatus
		}
		return nil, &Error{
			Endpoint:   provider.ID,
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("upstream returned status %d", resp.StatusCode),
		}
	}
	return resp, nil
}

func parseChatResponse(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("upstream response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream performs a streaming request, emitting TokenChunk as SSE `data:`
// lines arrive, then a final CompleteChunk with the accumulated text, or an
// ErrorChunk on failure. The returned channel is closed when the stream ends.
func (c *Client) Stream(ctx context.Context, endpoint string, messages []Message) <-chan Chunk {
	out := make(chan Chunk, 16)
	go c.streamLoop(ctx, endpoint, messages, out)
	return out
}

func (c *Client) streamLoop(ctx context.Context, endpoint string, messages []Message, out chan<- Chunk) {
	defer close(out)

	provider, err := c.providers.Provider(endpoint)
	if err != nil {
		out <- &ErrorChunk{Err: err, Retryable: false}
		return
	}

	body, err := json.Marshal(chatRequest{Model: provider.Model, Messages: messages, Stream: true})
	if err != nil {
		out <- &ErrorChunk{Err: err, Retryable: false}
		return
	}

	var accumulated strings.Builder
	for attempt := 0; attempt <= maxRetries; attempt++ {
		accumulated.Reset()
		done, retryable, err := c.streamOnce(ctx, provider, body, &accumulated, out)
		if done {
			return
		}
		if !retryable || attempt == maxRetries {
			out <- &ErrorChunk{Err: err, Retryable: false}
			return
		}
		delay := retryDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			out <- &ErrorChunk{Err: ctx.Err(), Retryable: false}
			return
		case <-time.After(delay):
		}
	}
}

// streamOnce runs one streaming attempt. done=true means the stream
// completed (successfully, and CompleteChunk was already emitted) and the
// caller must not retry.
func (c *Client) streamOnce(ctx context.Context, provider *config.LLMProviderConfig, body []byte, accumulated *strings.Builder, out chan<- Chunk) (done, retryable bool, err error) {
	resp, derr := c.do(ctx, provider, body)
	if derr != nil {
		upErr, _ := derr.(*Error)
		if upErr != nil {
			return false, upErr.Retryable(), upErr
		}
		return false, true, derr
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // malformed SSE data line, skip per original behavior
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		accumulated.WriteString(content)
		out <- &TokenChunk{Content: content}
	}
	if err := scanner.Err(); err != nil {
		return false, true, &Error{Endpoint: provider.ID, Kind: KindNetwork, Err: err}
	}

	out <- &CompleteChunk{Content: accumulated.String()}
	return true, false, nil
}
