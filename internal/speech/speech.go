// Package speech proxies text-to-speech requests to an ElevenLabs-compatible
// provider.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zapcrm/internal/config"
	"zapcrm/internal/storage"

	"github.com/google/uuid"
)

type Client struct {
	APIURL     string
	APIKey     string
	Store      storage.ObjectStore
	HTTPClient *http.Client
}

func NewClient(cfg *config.Config, store storage.ObjectStore) *Client {
	return &Client{
		APIURL:     strings.TrimRight(cfg.TTSAPIURL, "/"),
		APIKey:     cfg.TTSAPIKey,
		Store:      store,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type Voice struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PreviewURL string `json:"preview_url"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech provider error: %d - %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	data, err := c.do(ctx, http.MethodGet, "/voices", nil)
	if err != nil {
		return nil, err
	}
	var out voicesResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return out.Voices, nil
}

// Synthesize returns MP3 audio for text.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	return c.do(ctx, http.MethodPost, "/text-to-speech/"+voiceID, synthesizeRequest{
		Text:          text,
		ModelID:       "eleven_multilingual_v2",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
}

// SynthesizeToURL synthesizes and stores the audio under the organization's
// prefix, returning its public URL.
func (c *Client) SynthesizeToURL(ctx context.Context, orgID, voiceID, text string) (string, error) {
	audio, err := c.Synthesize(ctx, voiceID, text)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s/tts/%s.mp3", orgID, uuid.NewString())
	return c.Store.Put(ctx, key, "audio/mpeg", audio)
}
