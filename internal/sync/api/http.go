// Package api provides the HTTP transport used to deliver offline mutations
// to the server of record and to fetch reference data for the cache.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/errors"
	"github.com/Null-0-00/lpg-distribution-saas-sub002/internal/models"
	syncpkg "github.com/Null-0-00/lpg-distribution-saas-sub002/internal/sync"
)

// Idempotency and provenance headers. The server deduplicates re-delivered
// mutations on the mutation id; the offline marker distinguishes replayed
// traffic from live entry.
const (
	HeaderOfflineSync      = "X-Offline-Sync"
	HeaderMutationID       = "X-Mutation-ID"
	HeaderConflictResolved = "X-Conflict-Resolved"
	HeaderClientTimestamp  = "X-Client-Timestamp"
)

// HTTPTransport implements the orchestrator's Transport and the trigger's
// ReferenceFetcher over plain HTTP endpoints.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport rooted at baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// target resolves the fixed per-type endpoint mapping for delivery.
func (t *HTTPTransport) target(m *models.PendingMutation, payload map[string]interface{}) (method, endpoint string, err error) {
	switch m.Type {
	case models.MutationSale:
		return http.MethodPost, "/sales", nil
	case models.MutationInventory:
		productID, _ := payload["productId"].(string)
		if productID == "" {
			return "", "", errors.New(errors.ErrValidation, "inventory mutation payload lacks productId")
		}
		return http.MethodPut, "/inventory/" + url.PathEscape(productID), nil
	case models.MutationAction:
		// Generic escape hatch: the payload names its own target.
		endpoint, _ := payload["endpoint"].(string)
		if endpoint == "" {
			return "", "", errors.New(errors.ErrValidation, "action mutation payload lacks endpoint")
		}
		method, _ := payload["method"].(string)
		if method == "" {
			method = http.MethodPost
		}
		return strings.ToUpper(method), endpoint, nil
	default:
		return "", "", errors.New(errors.ErrNotDeliverable,
			fmt.Sprintf("mutation type %q has no transport target", m.Type))
	}
}

// Deliver sends a payload to the mutation's endpoint with idempotency and
// provenance headers.
func (t *HTTPTransport) Deliver(ctx context.Context, m *models.PendingMutation, payload map[string]interface{}, opts syncpkg.DeliveryOptions) error {
	method, endpoint, err := t.target(m, payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrValidation, "failed to encode delivery payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrDeliveryFailed, "failed to build delivery request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderOfflineSync, "true")
	req.Header.Set(HeaderMutationID, m.ID)
	if opts.ConflictResolved {
		req.Header.Set(HeaderConflictResolved, "true")
		req.Header.Set(HeaderClientTimestamp, strconv.FormatInt(opts.ClientTimestamp, 10))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrDeliveryFailed, "delivery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(errors.ErrDeliveryFailed,
			fmt.Sprintf("delivery failed with status %d: %s", resp.StatusCode, string(snippet)))
	}

	return nil
}

// LookupServerRecord fetches the server's current version of the record
// underlying the mutation. Sales look up by driver and date; inventory by
// product id. A 404 or empty body means no server version exists (nil, nil).
func (t *HTTPTransport) LookupServerRecord(ctx context.Context, m *models.PendingMutation) (map[string]interface{}, error) {
	payload, err := m.PayloadMap()
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "malformed mutation payload", err)
	}

	var endpoint string
	switch m.Type {
	case models.MutationSale:
		driverID, _ := payload["driverId"].(string)
		date, _ := payload["saleDate"].(string)
		if date == "" {
			date = time.UnixMilli(m.CreatedAt).UTC().Format("2006-01-02")
		}
		q := url.Values{}
		q.Set("driverId", driverID)
		q.Set("date", date)
		endpoint = "/sales/check?" + q.Encode()
	case models.MutationInventory:
		productID, _ := payload["productId"].(string)
		if productID == "" {
			return nil, errors.New(errors.ErrValidation, "inventory mutation payload lacks productId")
		}
		endpoint = "/inventory/" + url.PathEscape(productID)
	default:
		// Other types have no server baseline to compare against.
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "failed to build lookup request", err)
	}
	req.Header.Set(HeaderOfflineSync, "true")
	req.Header.Set(HeaderMutationID, m.ID)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "lookup request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errors.ErrDeliveryFailed,
			fmt.Sprintf("lookup failed with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "failed to read lookup response", err)
	}
	if len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil, nil
	}

	var record map[string]interface{}
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "failed to decode lookup response", err)
	}
	if len(record) == 0 {
		return nil, nil
	}

	return record, nil
}

// FetchReference retrieves reference data for the cache-refresh path.
func (t *HTTPTransport) FetchReference(ctx context.Context, path string) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "failed to build reference request", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "reference request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errors.ErrDeliveryFailed,
			fmt.Sprintf("reference fetch failed with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDeliveryFailed, "failed to read reference response", err)
	}

	return json.RawMessage(body), nil
}

// Ping probes server reachability for the connectivity monitor.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
