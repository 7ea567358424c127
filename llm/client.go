package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazyhaar/echocave/connectivity"
)

// retryCooldown is how long every caller backs off after any endpoint
// throws (spec.md §4.6): "sets a process-wide retry barrier retryTime =
// now + 30s; subsequent callers sleep until that time passes".
const retryCooldown = 30 * time.Second

// Client is the AI moderator's chat transport. It round-robins across an
// ordered endpoint list and enforces a single process-wide retry barrier
// shared by every caller, matching the teacher's connectivity package's
// pattern of a single mutex-guarded piece of shared transport state.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	endpoints []Endpoint
	nextIdx   int
	retryTime time.Time

	breakerMu sync.Mutex
	breakers  map[string]*connectivity.CircuitBreaker
}

// NewClient creates a Client over endpoints, used in round-robin order.
// timeout should be generous (spec.md §5: "LLM call up to 600s because of
// multimodal payloads"). Each endpoint gets its own circuit breaker,
// independent of the process-wide retry barrier: the barrier throttles
// every caller uniformly after any failure, while the breaker tracks a
// single endpoint's own health and stops routing to it once it trips.
func NewClient(endpoints []Endpoint, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make(map[string]*connectivity.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.URL] = connectivity.NewCircuitBreaker()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		endpoints:  endpoints,
		breakers:   breakers,
	}
}

func (c *Client) breakerFor(url string) *connectivity.CircuitBreaker {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()
	cb, ok := c.breakers[url]
	if !ok {
		cb = connectivity.NewCircuitBreaker()
		c.breakers[url] = cb
	}
	return cb
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat posts systemPrompt plus userMessages to the next endpoint in
// round-robin order and returns the assistant's raw text content. If the
// process-wide retry barrier is active, Chat blocks until it clears before
// issuing the request. A request failure (re)sets the barrier for
// retryCooldown; success clears it.
func (c *Client) Chat(ctx context.Context, userMessages []Message, systemPrompt string) (string, error) {
	if err := c.waitForBarrier(ctx); err != nil {
		return "", err
	}

	ep, err := c.nextEndpoint()
	if err != nil {
		return "", err
	}

	messages := make([]Message, 0, len(userMessages)+1)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	messages = append(messages, userMessages...)

	body, err := json.Marshal(chatRequest{Model: ep.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := ep.URL + "/chat/completions"
	handler := connectivity.Chain(
		connectivity.Logging(c.logger),
		connectivity.WithRetry(2, 500*time.Millisecond, c.logger),
		connectivity.WithCircuitBreaker(c.breakerFor(ep.URL), ep.URL),
	)(c.post(url, ep.Key))

	respBody, err := handler(ctx, body)
	if err != nil {
		c.setBarrier()
		return "", fmt.Errorf("llm: call %s: %w", url, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.setBarrier()
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		c.setBarrier()
		return "", fmt.Errorf("llm: no choices returned from %s", url)
	}

	c.clearBarrier()
	return parsed.Choices[0].Message.Content, nil
}

// post is the innermost connectivity.Handler: issue one POST and return the
// raw response body, or an error that the wrapping circuit breaker counts
// as a failure.
func (c *Client) post(url, key string) connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("POST: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errBody)
		}
		return io.ReadAll(resp.Body)
	}
}

func (c *Client) nextEndpoint() (Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.endpoints) == 0 {
		return Endpoint{}, fmt.Errorf("llm: no endpoints configured")
	}
	ep := c.endpoints[c.nextIdx]
	c.nextIdx = (c.nextIdx + 1) % len(c.endpoints)
	return ep, nil
}

func (c *Client) waitForBarrier(ctx context.Context) error {
	c.mu.Lock()
	until := c.retryTime
	c.mu.Unlock()

	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}
	c.logger.WarnContext(ctx, "llm retry barrier active, waiting", "wait_ms", wait.Milliseconds())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) setBarrier() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryTime = time.Now().Add(retryCooldown)
}

func (c *Client) clearBarrier() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryTime = time.Time{}
}

func dataURI(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}
