package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/resort-booking-core/internal/apperr"
	"github.com/iliyamo/resort-booking-core/internal/model"
)

// LocalVerifier runs offline replays in-process as a given staff actor.
type LocalVerifier struct {
	Service *Service
	Actor   model.Actor
}

// VerifyToken implements Verifier.
func (v LocalVerifier) VerifyToken(ctx context.Context, tok model.CheckinToken, scannerID string, offline bool) (model.CheckinResult, error) {
	return v.Service.Verify(ctx, VerifyRequest{Actor: v.Actor, Token: &tok, ScannerID: scannerID, Offline: offline})
}

// VerifyBody is the JSON body of POST /v1/checkin/verify.
type VerifyBody struct {
	Token     *model.CheckinToken `json:"token,omitempty"`
	Code      string              `json:"code,omitempty"`
	ScannerID string              `json:"scanner_id,omitempty"`
	Offline   bool                `json:"offline,omitempty"`
}

// HTTPVerifier talks to the booking API from a scanner device.
type HTTPVerifier struct {
	BaseURL     string
	AccessToken string
	Client      *http.Client
}

// NewHTTPVerifier returns a client for baseURL authenticating with a staff
// bearer token.
func NewHTTPVerifier(baseURL, accessToken string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 || timeout > maxVerifyTimeout {
		timeout = maxVerifyTimeout
	}
	return &HTTPVerifier{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		Client:      &http.Client{Timeout: timeout},
	}
}

// VerifyToken implements Verifier.
func (v *HTTPVerifier) VerifyToken(ctx context.Context, tok model.CheckinToken, scannerID string, offline bool) (model.CheckinResult, error) {
	return v.Verify(ctx, VerifyBody{Token: &tok, ScannerID: scannerID, Offline: offline})
}

// Verify posts one scan.  API error bodies come back as *apperr.Error so
// callers can branch on the kind.
func (v *HTTPVerifier) Verify(ctx context.Context, body VerifyBody) (model.CheckinResult, error) {
	var out model.CheckinResult
	raw, err := json.Marshal(body)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/v1/checkin/verify", bytes.NewReader(raw))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+v.AccessToken)
	}
	resp, err := v.Client.Do(req)
	if err != nil {
		return out, apperr.External("booking api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb struct {
			Error   string         `json:"error"`
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Code == "" {
			return out, apperr.External("booking api", fmt.Errorf("status %d", resp.StatusCode))
		}
		return out, &apperr.Error{Kind: apperr.KindFromCode(eb.Code), Message: eb.Error, Details: eb.Details}
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode verify response: %w", err)
	}
	return out, nil
}
