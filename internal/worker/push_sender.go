package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/notifyhub/notifyhub/internal/notification"
)

// PushSenderConfig configures the mobile push backend connection. The
// backend is FCM-shaped; authentication uses a service-account JWT
// exchanged for an OAuth2 bearer token rather than the firebase-admin-go
// SDK, since no retrieved source actually imports that SDK.
type PushSenderConfig struct {
	ProjectID   string
	Endpoint    string // base URL, e.g. https://fcm.googleapis.com/v1/projects
	Credentials []byte // service-account JSON
	Timeout     time.Duration
}

// PushSender delivers notifications to a mobile push gateway over raw
// HTTP: build request, attach bearer token, classify the response.
type PushSender struct {
	projectID  string
	endpoint   string
	httpClient *http.Client
	tokenSrc   oauth2.TokenSource
}

// NewPushSender builds a PushSender. If no credentials are supplied (e.g.
// in a test environment), requests fail at send time rather than at
// construction; credentials that cannot be parsed are rejected here.
func NewPushSender(config PushSenderConfig) (*PushSender, error) {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var tokenSrc oauth2.TokenSource
	if len(config.Credentials) > 0 {
		jwtCfg, err := google.JWTConfigFromJSON(config.Credentials, "https://www.googleapis.com/auth/firebase.messaging")
		if err != nil {
			return nil, fmt.Errorf("push sender: parse credentials: %w", err)
		}
		tokenSrc = jwtCfg.TokenSource(context.Background())
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = "https://fcm.googleapis.com/v1/projects"
	}

	return &PushSender{
		projectID:  config.ProjectID,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		tokenSrc:   tokenSrc,
	}, nil
}

// Channel reports this is the push channel adapter.
func (s *PushSender) Channel() notification.Channel {
	return notification.ChannelPush
}

type pushResultEntry struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type pushResponse struct {
	Results []pushResultEntry `json:"results"`
}

// Send posts {token, payload} to the push gateway. The response carries a
// per-device result array; if any entry holds an error the call is
// treated as failed using the first error's message.
func (s *PushSender) Send(ctx context.Context, msg notification.EnqueuedMessage, body string) SendResult {
	if s.tokenSrc == nil {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: no credentials configured")}
	}

	meta := notification.ExtractPushMetadata(msg.Metadata)

	reqBody := map[string]interface{}{
		"token": meta.Token,
		"payload": map[string]interface{}{
			"title":     meta.Title,
			"body":      body,
			"image_url": meta.ImageURL,
			"data":      meta.Data,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: encode request: %w", err)}
	}

	url := fmt.Sprintf("%s/%s/messages:send", s.endpoint, s.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := s.tokenSrc.Token()
	if err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: token: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Success: false, Error: s.categorizeNetworkError(err)}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: backend error %d: %s", resp.StatusCode, string(respBytes))}
	}
	if resp.StatusCode >= 400 {
		return SendResult{Success: false, Error: fmt.Errorf("push sender: request rejected %d: %s", resp.StatusCode, string(respBytes))}
	}

	var parsed pushResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		// A 2xx with an unparseable body has no per-device error array to
		// inspect, so it is treated as delivered; permanent vs. transient
		// backend errors are not distinguished anywhere in this adapter.
		return SendResult{Success: true}
	}

	for _, r := range parsed.Results {
		if r.Error != nil {
			return SendResult{Success: false, Error: fmt.Errorf("push sender: device error: %s", r.Error.Message)}
		}
	}
	return SendResult{Success: true}
}

// categorizeNetworkError classifies a transport-level error by matching
// on its text, since net/http does not expose a structured error
// taxonomy for these cases.
func (s *PushSender) categorizeNetworkError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("push sender: timeout: %w", err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("push sender: connection refused: %w", err)
	default:
		return fmt.Errorf("push sender: network error: %w", err)
	}
}
