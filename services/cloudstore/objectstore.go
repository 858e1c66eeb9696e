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
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/eds331/musclepro-app/services/profile"
)

var objectTracer = otel.Tracer("musclepro.cloudstore.objectstore")

// DefaultObjectStoreBaseURL is the public sandbox used when no endpoint
// is configured.
const DefaultObjectStoreBaseURL = "https://api.restful-api.dev/objects"

// ObjectStoreClient talks to a generic object-store REST API: a flat
// collection of {id, name, data} objects. Records are discovered by
// scanning the collection for the owner's deterministic name; the
// returned id is what the engine caches as the record ref.
type ObjectStoreClient struct {
	httpClient  *http.Client
	baseURL     string
	cred        *memguard.Enclave
	listLimiter *rate.Limiter
}

// storedObject is one element of the collection listing.
type storedObject struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// objectEnvelope is the create/update request body.
type objectEnvelope struct {
	Name string        `json:"name"`
	Data *profile.User `json:"data"`
}

// createdObject is the create response body.
type createdObject struct {
	ID string `json:"id"`
}

func NewObjectStoreClient(cfg Config) *ObjectStoreClient {
	base := cfg.EndpointURL
	if base == "" {
		base = DefaultObjectStoreBaseURL
	}
	base = strings.TrimSuffix(base, "/")
	slog.Info("Initializing object-store client", "base_url", base)
	return &ObjectStoreClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    base,
		cred:       cfg.credentialEnclave(),
		// Discovery lists the whole public collection; keep scans polite.
		listLimiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

func (c *ObjectStoreClient) Provider() Provider { return ProviderObjectStore }

// Fetch implements the CloudStore interface.
func (c *ObjectStoreClient) Fetch(ctx context.Context, ownerKey, hintRef string) (Record, error) {
	ctx, span := objectTracer.Start(ctx, "ObjectStoreClient.Fetch")
	defer span.End()
	span.SetAttributes(attribute.Bool("cloudstore.has_hint", hintRef != ""))

	if hintRef != "" {
		rec, err := c.getByID(ctx, hintRef)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Record{}, err
		}
		slog.Debug("cached object id is stale, re-running discovery",
			"hint", hintRef)
	}

	rec, err := c.discover(ctx, ownerKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rec, err
}

// Upsert implements the CloudStore interface.
//
// Discovery always runs before a create so that two devices converging on
// the same owner update the first-created record instead of adding a
// duplicate.
func (c *ObjectStoreClient) Upsert(ctx context.Context, ownerKey string,
	u *profile.User, hintRef string) (string, error) {

	ctx, span := objectTracer.Start(ctx, "ObjectStoreClient.Upsert")
	defer span.End()

	payload := objectEnvelope{Name: DiscoveryKey(ownerKey), Data: u}

	if hintRef != "" {
		err := c.putByID(ctx, hintRef, payload)
		if err == nil {
			return hintRef, nil
		}
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		slog.Debug("cached object id is stale on update, re-running discovery",
			"hint", hintRef)
	}

	existing, err := c.discover(ctx, ownerKey)
	switch {
	case err == nil:
		if err := c.putByID(ctx, existing.Ref, payload); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		return existing.Ref, nil
	case errors.Is(err, ErrNotFound):
		ref, err := c.create(ctx, payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		return ref, nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
}

func (c *ObjectStoreClient) getByID(ctx context.Context, id string) (Record, error) {
	body, status, err := c.do(ctx, http.MethodGet, c.baseURL+"/"+id, nil)
	if err != nil {
		return Record{}, &TransportError{Op: "objectstore.get", Err: err}
	}
	if status == http.StatusNotFound {
		return Record{}, ErrNotFound
	}
	if status != http.StatusOK {
		return Record{}, &TransportError{Op: "objectstore.get", Status: status,
			Err: fmt.Errorf("unexpected status")}
	}

	var obj storedObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return Record{}, &DecodeError{Op: "objectstore.get", Err: err}
	}
	return decodeStoredObject(obj)
}

func (c *ObjectStoreClient) discover(ctx context.Context, ownerKey string) (Record, error) {
	if err := c.listLimiter.Wait(ctx); err != nil {
		return Record{}, &TransportError{Op: "objectstore.list", Err: err}
	}

	body, status, err := c.do(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return Record{}, &TransportError{Op: "objectstore.list", Err: err}
	}
	if status != http.StatusOK {
		return Record{}, &TransportError{Op: "objectstore.list", Status: status,
			Err: fmt.Errorf("unexpected status")}
	}

	var objects []storedObject
	if err := json.Unmarshal(body, &objects); err != nil {
		return Record{}, &DecodeError{Op: "objectstore.list", Err: err}
	}

	name := DiscoveryKey(ownerKey)
	for _, obj := range objects {
		if obj.Name == name {
			return decodeStoredObject(obj)
		}
	}
	return Record{}, ErrNotFound
}

func (c *ObjectStoreClient) putByID(ctx context.Context, id string, payload objectEnvelope) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloudstore: encode object payload: %w", err)
	}
	body, status, err := c.do(ctx, http.MethodPut, c.baseURL+"/"+id, raw)
	if err != nil {
		return &TransportError{Op: "objectstore.put", Err: err}
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status < 200 || status >= 300 {
		slog.Error("object store rejected update", "status", status,
			"response", truncateBody(body))
		return &TransportError{Op: "objectstore.put", Status: status,
			Err: fmt.Errorf("unexpected status")}
	}
	return nil
}

func (c *ObjectStoreClient) create(ctx context.Context, payload objectEnvelope) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cloudstore: encode object payload: %w", err)
	}
	body, status, err := c.do(ctx, http.MethodPost, c.baseURL, raw)
	if err != nil {
		return "", &TransportError{Op: "objectstore.create", Err: err}
	}
	if status < 200 || status >= 300 {
		slog.Error("object store rejected create", "status", status,
			"response", truncateBody(body))
		return "", &TransportError{Op: "objectstore.create", Status: status,
			Err: fmt.Errorf("unexpected status")}
	}

	var created createdObject
	if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
		if err == nil {
			err = fmt.Errorf("create response missing id")
		}
		return "", &DecodeError{Op: "objectstore.create", Err: err}
	}
	return created.ID, nil
}

// do issues one request and returns the body and status. Transport-level
// failures (DNS, timeout, connection reset) come back as errors; any
// received status is returned for the caller to interpret.
func (c *ObjectStoreClient) do(ctx context.Context, method, url string,
	payload []byte) ([]byte, int, error) {

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := authorize(req, c.cred); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func decodeStoredObject(obj storedObject) (Record, error) {
	if len(obj.Data) == 0 || string(obj.Data) == "null" {
		return Record{}, &DecodeError{Op: "objectstore.decode",
			Err: fmt.Errorf("object %s has no data", obj.ID)}
	}
	var u profile.User
	if err := json.Unmarshal(obj.Data, &u); err != nil {
		return Record{}, &DecodeError{Op: "objectstore.decode", Err: err}
	}
	return Record{Ref: obj.ID, User: &u}, nil
}

// authorize attaches the bearer credential, decrypting it only for the
// lifetime of this call.
func authorize(req *http.Request, cred *memguard.Enclave) error {
	if cred == nil {
		return nil
	}
	buf, err := cred.Open()
	if err != nil {
		return fmt.Errorf("cloudstore: open credential: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("Authorization", "Bearer "+buf.String())
	return nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
