package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"

	"github.com/pion/logging"
)

const defaultTimeout = 10 * time.Second

type relayRequest struct {
	Room      string `json:"room"`
	RequestID string `json:"requestId"`
}

type relayResponse struct {
	Result int                `json:"result"`
	Msg    string             `json:"msg"`
	Data   domain.RelayConfig `json:"data"`
}

// Client fetches short-lived relay credentials from the credentials service.
type Client struct {
	url  string
	http *http.Client
	log  logging.LeveledLogger
}

// NewClient creates an API client for the credentials endpoint at url.
// A nil httpClient uses a client with a 10s timeout.
func NewClient(url string, httpClient *http.Client, f logging.LoggerFactory) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{url: url, http: httpClient, log: logger.Scoped(f, "api")}
}

func generateRequestID() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	h := sha1.Sum(buf)
	return fmt.Sprintf("%x", h)[:32]
}

// FetchRelay asks the credentials service for STUN/TURN servers usable in room.
func (c *Client) FetchRelay(ctx context.Context, room string) (*domain.RelayConfig, error) {
	body, err := json.Marshal(relayRequest{Room: room, RequestID: generateRequestID()})
	if err != nil {
		return nil, fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var relayResp relayResponse
	if err := json.Unmarshal(respBody, &relayResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if relayResp.Result != 0 {
		return nil, fmt.Errorf("API error (result=%d): %s", relayResp.Result, relayResp.Msg)
	}
	if len(relayResp.Data.URLs) == 0 {
		return nil, fmt.Errorf("API returned no relay urls")
	}

	c.log.Debugf("fetched %d relay urls for room %q", len(relayResp.Data.URLs), room)
	return &relayResp.Data, nil
}
