// Package elevenlabs is a text-to-speech client for the ElevenLabs API.
// Each persona owns one client configured with its voice.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const apiURL = "https://api.elevenlabs.io/v1"

// Client is an ElevenLabs TTS client
type Client struct {
	apiKey  string
	voiceID string
	model   string
	client  *http.Client
}

// Config holds ElevenLabs client configuration
type Config struct {
	APIKey  string
	VoiceID string // persona voice, e.g. "ZeK6O9RfGNGj0cJT2HoJ"
	Model   string // e.g., "eleven_turbo_v2_5"
}

// NewClient creates a new ElevenLabs client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = "eleven_turbo_v2_5" // Fast model
	}

	return &Client{
		apiKey:  config.APIKey,
		voiceID: config.VoiceID,
		model:   config.Model,
		client:  &http.Client{},
	}
}

// ttsRequest is the request body for text-to-speech
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

// Synthesize converts text to speech and returns PCM audio (signed 16-bit LE,
// 22050Hz mono). The context cancels the request when the speaker is
// interrupted or the room goes away.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	// output_format must be a query parameter, not in the body
	// pcm_22050 = 22050Hz, 16-bit signed little-endian mono PCM
	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=pcm_22050", apiURL, c.voiceID)

	reqBody := ttsRequest{
		Text:    text,
		ModelID: c.model,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           1.0,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	pcmData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return pcmData, nil
}
