package cloudstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/eds331/musclepro-app/services/profile"
)

var bridgeTracer = otel.Tracer("musclepro.cloudstore.bridge")

// BridgeClient talks to the custom HTTP bridge: a single endpoint keyed
// directly by email. GET {endpoint}?email={owner} returns
// {profile_data: ...}; POST {endpoint} accepts {email, profile_data}.
//
// The bridge has no record identifiers of its own; the owner key doubles
// as the record ref, so a cached ref can never go stale here.
type BridgeClient struct {
	httpClient *http.Client
	endpoint   string
	cred       *memguard.Enclave
}

// bridgeResponse is the GET response body. Some bridge deployments
// double-encode profile_data as a JSON string; both forms decode.
type bridgeResponse struct {
	ProfileData json.RawMessage `json:"profile_data"`
}

type bridgeUpsertRequest struct {
	Email       string        `json:"email"`
	ProfileData *profile.User `json:"profile_data"`
}

func NewBridgeClient(cfg Config) (*BridgeClient, error) {
	if cfg.EndpointURL == "" {
		return nil, errors.New("cloudstore: bridge provider requires an endpoint URL")
	}
	endpoint := strings.TrimSuffix(cfg.EndpointURL, "/")
	slog.Info("Initializing bridge client", "endpoint", endpoint)
	return &BridgeClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
		cred:       cfg.credentialEnclave(),
	}, nil
}

func (c *BridgeClient) Provider() Provider { return ProviderBridge }

// Fetch implements the CloudStore interface.
func (c *BridgeClient) Fetch(ctx context.Context, ownerKey, _ string) (Record, error) {
	ctx, span := bridgeTracer.Start(ctx, "BridgeClient.Fetch")
	defer span.End()

	fetchURL := c.endpoint + "?email=" + url.QueryEscape(ownerKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return Record{}, &TransportError{Op: "bridge.fetch", Err: err}
	}
	if err := authorize(req, c.cred); err != nil {
		return Record{}, &TransportError{Op: "bridge.fetch", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, &TransportError{Op: "bridge.fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Record{}, &TransportError{Op: "bridge.fetch", Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return Record{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("bridge returned an error", "status_code", resp.StatusCode,
			"response", truncateBody(body))
		return Record{}, &TransportError{Op: "bridge.fetch",
			Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var br bridgeResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return Record{}, &DecodeError{Op: "bridge.fetch", Err: err}
	}
	if len(br.ProfileData) == 0 || string(br.ProfileData) == "null" {
		return Record{}, ErrNotFound
	}

	u, err := decodeProfileData(br.ProfileData)
	if err != nil {
		span.RecordError(err)
		return Record{}, err
	}
	return Record{Ref: ownerKey, User: u}, nil
}

// Upsert implements the CloudStore interface.
func (c *BridgeClient) Upsert(ctx context.Context, ownerKey string,
	u *profile.User, _ string) (string, error) {

	ctx, span := bridgeTracer.Start(ctx, "BridgeClient.Upsert")
	defer span.End()

	raw, err := json.Marshal(bridgeUpsertRequest{Email: ownerKey, ProfileData: u})
	if err != nil {
		return "", fmt.Errorf("cloudstore: encode bridge payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		bytes.NewReader(raw))
	if err != nil {
		return "", &TransportError{Op: "bridge.upsert", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if err := authorize(req, c.cred); err != nil {
		return "", &TransportError{Op: "bridge.upsert", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &TransportError{Op: "bridge.upsert", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("bridge rejected upsert", "status_code", resp.StatusCode,
			"response", truncateBody(body))
		return "", &TransportError{Op: "bridge.upsert",
			Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	return ownerKey, nil
}

// decodeProfileData handles both wire forms of profile_data: a JSON
// object, or that object serialized again into a JSON string.
func decodeProfileData(raw json.RawMessage) (*profile.User, error) {
	var u profile.User
	if err := json.Unmarshal(raw, &u); err == nil {
		return &u, nil
	}

	var once string
	if err := json.Unmarshal(raw, &once); err != nil {
		return nil, &DecodeError{Op: "bridge.decode", Err: err}
	}
	if err := json.Unmarshal([]byte(once), &u); err != nil {
		return nil, &DecodeError{Op: "bridge.decode", Err: err}
	}
	return &u, nil
}
