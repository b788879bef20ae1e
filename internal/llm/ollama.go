package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/comigor/ollamachat/internal/chat"
	"github.com/comigor/ollamachat/internal/logger"
	"github.com/comigor/ollamachat/internal/metrics"
)

const (
	// RequestTimeout bounds the wait for response headers.
	RequestTimeout = 300 * time.Second
	// ResourceTimeout bounds the whole exchange including the streamed body.
	ResourceTimeout = 600 * time.Second
)

type ollamaChatRequest struct {
	Model       string             `json:"model"`
	Messages    []chat.RoleMessage `json:"messages"`
	Stream      bool               `json:"stream"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
	TopK        int                `json:"top_k"`
}

type ollamaStreamLine struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// OllamaClient talks to an Ollama server's /api/chat and /api/tags.
type OllamaClient struct {
	mu      sync.RWMutex
	baseURL string
	client  *http.Client
}

// NewOllamaClient creates a client for the server at baseURL.
func NewOllamaClient(baseURL string) *OllamaClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = RequestTimeout
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: ResourceTimeout, Transport: transport},
	}
}

// SetBaseURL points the client at another server. In-flight streams keep
// their original connection.
func (c *OllamaClient) SetBaseURL(u string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(u, "/")
	c.mu.Unlock()
}

// BaseURL returns the current server address.
func (c *OllamaClient) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// ChatStream posts the conversation to /api/chat and returns the NDJSON stream.
func (c *OllamaClient) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL()+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	logger.L.Debug("chat stream opened", "model", req.Model, "messages", len(req.Messages))
	return &ollamaStream{ctx: ctx, body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// ListModels queries /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL()+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func statusError(resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode, Status: resp.Status}
	var oe ollamaError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&oe); err == nil {
		se.Message = oe.Error
	}
	return se
}

type ollamaStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *ollamaStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return "", err
		}

		line, readErr := s.reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("read stream: %w", readErr)
		}
		if errors.Is(readErr, io.EOF) {
			// A closed stream ends the sequence; a trailing line without a
			// newline is still parsed.
			s.done = true
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var ev ollamaStreamLine
		if err := json.Unmarshal(line, &ev); err != nil {
			metrics.SkippedLines.Inc()
			logger.L.Debug("skipping malformed stream line", "error", err)
			continue
		}
		if ev.Done {
			s.done = true
		}
		if ev.Message != nil && ev.Message.Content != "" {
			metrics.StreamDeltas.Inc()
			return ev.Message.Content, nil
		}
	}
}

func (s *ollamaStream) Close() error {
	s.done = true
	return s.body.Close()
}
