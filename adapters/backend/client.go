// Package backend implements the AlertService contract against the wardn
// safety backend's HTTP/JSON API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wardn/wardn/domain/entities"
	"github.com/wardn/wardn/domain/repositories"
	"github.com/wardn/wardn/internal/auth"
)

const (
	defaultTimeout = 15 * time.Second

	// Uploads ride on the same request as the event, so give them room.
	defaultUploadTimeout = 60 * time.Second

	expiryWarnWindow = 10 * time.Minute
)

// Config holds configuration for the backend client.
// Required fields:
// - BaseURL: root of the backend API, e.g. "https://api.wardn.app"
// - Token: the session JWT issued at login
// Optional fields with defaults:
// - Timeout: per-request bound for JSON calls (default 15s)
// - UploadTimeout: bound for the multipart alert submission (default 60s)
type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	UploadTimeout time.Duration
}

// ValidateConfig validates the backend client configuration.
func ValidateConfig(config Config) error {
	if config.BaseURL == "" {
		return fmt.Errorf("backend base URL is required")
	}
	if config.Token == "" {
		return fmt.Errorf("session token is required")
	}
	if config.Timeout < 0 || config.UploadTimeout < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// NewConfigFromEnv creates a Config from environment variables.
func NewConfigFromEnv() Config {
	config := Config{
		BaseURL: os.Getenv("WARDN_API_BASE_URL"),
		Token:   os.Getenv("WARDN_API_TOKEN"),
	}
	if raw := os.Getenv("WARDN_API_TIMEOUT_SECONDS"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			config.Timeout = time.Duration(seconds) * time.Second
		}
	}
	return config
}

// Client talks to the safety backend. Stateless apart from the session
// token; safe to share across controllers.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	uploader   *http.Client
	logger     *zap.Logger
}

// Ensure Client implements the AlertService interface
var _ repositories.AlertService = (*Client)(nil)

// NewClient creates a backend client.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.UploadTimeout == 0 {
		config.UploadTimeout = defaultUploadTimeout
	}

	if claims, err := auth.ParseSessionToken(config.Token); err != nil {
		logger.Warn("session token is not a well-formed JWT", zap.Error(err))
	} else if claims.ExpiresWithin(expiryWarnWindow, time.Now()) {
		logger.Warn("session token expires soon, requests may start failing",
			zap.Timep("expiresAt", numericDateTime(claims)))
	}

	return &Client{
		baseURL:    config.BaseURL,
		token:      config.Token,
		httpClient: &http.Client{Timeout: config.Timeout},
		uploader:   &http.Client{Timeout: config.UploadTimeout},
		logger:     logger,
	}, nil
}

func numericDateTime(claims *auth.SessionClaims) *time.Time {
	if claims.ExpiresAt == nil {
		return nil
	}
	t := claims.ExpiresAt.Time
	return &t
}

// createAlertResponse mirrors the backend's SOS creation payload.
type createAlertResponse struct {
	Status          string `json:"status"`
	EventID         int64  `json:"event_id"`
	Message         string `json:"message"`
	VoiceMessageURL string `json:"voice_message_url"`
}

// CreateAlert submits a draft through the unified with-voice endpoint. The
// endpoint accepts the same form with or without the voice_message part, so
// voice and no-voice alerts cannot diverge onto different code paths.
func (c *Client) CreateAlert(ctx context.Context, draft *entities.AlertDraft) (int64, error) {
	body, contentType, err := encodeDraft(draft)
	if err != nil {
		return 0, err
	}

	url := c.baseURL + "/sos/with-voice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.uploader.Do(req)
	if err != nil {
		return 0, fmt.Errorf("submit alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("submit alert: backend returned %d: %s", resp.StatusCode, string(errorBody))
	}

	var created createAlertResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("submit alert: decode response: %w", err)
	}

	c.logger.Info("alert recorded by backend",
		zap.Int64("eventID", created.EventID),
		zap.Bool("voice", created.VoiceMessageURL != ""))
	return created.EventID, nil
}

// encodeDraft builds the multipart form the backend expects. Pipe-free
// in-memory encoding: voice clips are ceiling-bounded and small.
func encodeDraft(draft *entities.AlertDraft) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"trigger_type": string(draft.TriggerKind),
		"event_type":   draft.EventType,
		"app_state":    string(draft.AppState),
		"timestamp":    draft.Timestamp.UTC().Format(time.RFC3339),
	}
	if draft.Location != nil {
		fields["latitude"] = strconv.FormatFloat(draft.Location.Latitude, 'f', -1, 64)
		fields["longitude"] = strconv.FormatFloat(draft.Location.Longitude, 'f', -1, 64)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("encode alert form: %w", err)
		}
	}

	if draft.HasAudio() {
		file, err := os.Open(draft.AudioFilePath)
		if err != nil {
			return nil, "", fmt.Errorf("open voice recording: %w", err)
		}
		defer file.Close()

		part, err := writer.CreateFormFile("voice_message", filepath.Base(draft.AudioFilePath))
		if err != nil {
			return nil, "", fmt.Errorf("encode voice recording: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, "", fmt.Errorf("encode voice recording: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("encode alert form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// alertRecordResponse mirrors GET /sos/events/{id}.
type alertRecordResponse struct {
	ID              int64    `json:"id"`
	UserID          int64    `json:"user_id"`
	DependentName   string   `json:"dependent_name"`
	TriggerType     string   `json:"trigger_type"`
	EventType       string   `json:"event_type"`
	AppState        string   `json:"app_state"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	VoiceMessageURL string   `json:"voice_message_url"`
	CreatedAt       string   `json:"created_at"`
	EventTimestamp  string   `json:"event_timestamp"`
}

// GetAlertByID fetches the full record of a received alert. Display fields
// are parsed defensively: an unknown trigger tag resolves to manual and a
// malformed timestamp to now, never to an error.
func (c *Client) GetAlertByID(ctx context.Context, id int64) (*entities.AlertRecord, error) {
	url := fmt.Sprintf("%s/sos/events/%d", c.baseURL, id)

	var payload alertRecordResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	record := &entities.AlertRecord{
		ID:              payload.ID,
		DependentUserID: payload.UserID,
		DependentName:   payload.DependentName,
		TriggerKind:     entities.ParseTriggerKind(payload.TriggerType),
		EventType:       payload.EventType,
		VoiceMessageURL: payload.VoiceMessageURL,
		CreatedAt:       entities.ParseTimestamp(payload.CreatedAt, time.Now()),
	}
	if payload.Latitude != nil && payload.Longitude != nil {
		record.TriggerLocation = &entities.GeoPoint{
			Latitude:  *payload.Latitude,
			Longitude: *payload.Longitude,
		}
	}
	return record, nil
}

// livePositionResponse mirrors GET /live-locations/{user_id}.
type livePositionResponse struct {
	UserID    int64    `json:"user_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	UpdatedAt string   `json:"updated_at"`
}

// GetLivePosition fetches the dependent's current fix. A 404 means no fix
// has been stored yet and maps to repositories.ErrNotFound.
func (c *Client) GetLivePosition(ctx context.Context, dependentUserID int64) (*entities.LivePosition, error) {
	url := fmt.Sprintf("%s/live-locations/%d", c.baseURL, dependentUserID)

	var payload livePositionResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}

	return &entities.LivePosition{
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		Accuracy:  payload.Accuracy,
		UpdatedAt: entities.ParseTimestamp(payload.UpdatedAt, time.Now()),
	}, nil
}

// emergencyContactResponse mirrors one GET /my-emergency-contacts item.
type emergencyContactResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// HasEmergencyContacts reports whether at least one active contact exists.
func (c *Client) HasEmergencyContacts(ctx context.Context) (bool, error) {
	var contacts []emergencyContactResponse
	if err := c.getJSON(ctx, c.baseURL+"/my-emergency-contacts", &contacts); err != nil {
		return false, err
	}
	for _, contact := range contacts {
		if contact.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return repositories.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(errorBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}
