// Package groq is a minimal streaming client for Groq's OpenAI-compatible
// chat completions API, used as the reply-generation backend.
package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const apiURL = "https://api.groq.com/openai/v1/chat/completions"

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a Groq chat client. It keeps the running conversation history
// so each persona holds a coherent multi-turn exchange. The history is
// guarded: the greeting and utterance paths may stream concurrently.
type Client struct {
	apiKey       string
	model        string
	systemPrompt string
	baseURL      string
	httpClient   *http.Client

	mu       sync.Mutex
	messages []Message // Conversation history
}

// Config holds Groq client configuration
type Config struct {
	APIKey       string
	Model        string // e.g., "llama-3.3-70b-versatile" (default)
	SystemPrompt string
}

// StreamCallback is called for each chunk of the streaming response
type StreamCallback func(chunk string, done bool)

// NewClient creates a new Groq client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = "llama-3.3-70b-versatile"
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = "You are a helpful voice assistant. Keep responses concise and conversational since they will be spoken aloud."
	}

	return &Client{
		apiKey:       config.APIKey,
		model:        config.Model,
		systemPrompt: config.SystemPrompt,
		baseURL:      apiURL,
		httpClient:   &http.Client{},
	}
}

// chatRequest is the request body for chat completions
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// streamResponse represents a streaming response chunk
type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ChatStream sends a user message and streams the response, recording both
// sides in the conversation history.
func (c *Client) ChatStream(ctx context.Context, userMessage string, callback StreamCallback) error {
	c.mu.Lock()
	c.messages = append(c.messages, Message{Role: "user", Content: userMessage})

	messages := make([]Message, 0, len(c.messages)+1)
	messages = append(messages, Message{Role: "system", Content: c.systemPrompt})
	messages = append(messages, c.messages...)
	c.mu.Unlock()

	return c.stream(ctx, messages, callback)
}

// InstructStream generates a reply from a one-off instruction (used for the
// opening greeting). Only the assistant's reply enters the history, so
// later turns read naturally.
func (c *Client) InstructStream(ctx context.Context, instruction string, callback StreamCallback) error {
	messages := []Message{
		{Role: "system", Content: c.systemPrompt},
		{Role: "system", Content: instruction},
	}
	return c.stream(ctx, messages, callback)
}

func (c *Client) stream(ctx context.Context, messages []Message, callback StreamCallback) error {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	// Read the SSE stream line by line
	var fullResponse strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk streamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		content := chunk.Choices[0].Delta.Content
		if content != "" {
			fullResponse.WriteString(content)
			callback(content, false)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}

	callback("", true)

	// Record the assistant's turn
	if fullResponse.Len() > 0 {
		c.mu.Lock()
		c.messages = append(c.messages, Message{Role: "assistant", Content: fullResponse.String()})
		c.mu.Unlock()
	}
	return nil
}

// Reset clears the conversation history
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
