package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/order-service/internal/core/domain"
)

const inventoryPath = "/api/inventory"

type stockResponse struct {
	SKUCode   string `json:"skuCode"`
	IsInStock bool   `json:"isInStock"`
}

// StatusError is returned for any non-2xx answer. Client errors are not
// worth retrying.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inventory service returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// HTTPClient asks the remote inventory service which SKUs are in stock.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// InStock issues GET /api/inventory?skuCode=a&skuCode=b. SKUs the service
// does not mention are absent from the result.
func (c *HTTPClient) InStock(ctx context.Context, skus []string) (domain.Availability, error) {
	q := url.Values{}
	for _, sku := range skus {
		q.Add("skuCode", sku)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+inventoryPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call inventory service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var items []stockResponse
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode inventory response: %w", err)
	}

	availability := make(domain.Availability, len(items))
	for _, it := range items {
		// any false answer for a SKU wins
		if prev, seen := availability[it.SKUCode]; seen && !prev {
			continue
		}
		availability[it.SKUCode] = it.IsInStock
	}
	return availability, nil
}
