package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultHuggingFaceURL = "https://api-inference.huggingface.co/models/Salesforce/blip-image-captioning-base"

// HuggingFace calls a hosted image-to-text inference endpoint.
type HuggingFace struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHuggingFace(endpoint, token string) *HuggingFace {
	if endpoint == "" {
		endpoint = DefaultHuggingFaceURL
	}
	return &HuggingFace{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HuggingFace) WithHTTPClient(client *http.Client) *HuggingFace {
	h.client = client
	return h
}

type hfCaption struct {
	GeneratedText string `json:"generated_text"`
}

func (h *HuggingFace) Caption(ctx context.Context, image []byte) (string, error) {
	if err := checkImage(image); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("caption: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption: huggingface request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("caption: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("caption: huggingface status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out []hfCaption
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("caption: decode response: %w", err)
	}
	if len(out) == 0 {
		return "", ErrNoCaption
	}
	return clean(out[0].GeneratedText)
}
