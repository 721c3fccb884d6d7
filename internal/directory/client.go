package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tracmex/nip-reset/internal/domain"
)

// ClientConfig holds catalog client configuration.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is the HTTP implementation of Resolver against the catalog API.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates a catalog client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

type lookupRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type lookupResponse struct {
	CustomerID string    `json:"customer_id"`
	Vehicles   []Vehicle `json:"vehicles"`
}

// Lookup resolves an email+phone pair against the catalog.
func (c *Client) Lookup(ctx context.Context, email, phone string) (*LookupResult, error) {
	var resp lookupResponse
	status, err := c.post(ctx, "/v1/customers/lookup", lookupRequest{Email: email, Phone: phone}, &resp)
	if err != nil {
		return nil, fmt.Errorf("directory lookup: %w", err)
	}
	if status == http.StatusNotFound {
		return &LookupResult{Outcome: OutcomeNotFound}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("directory lookup: %w (status %d)", domain.ErrDirectoryUnavailable, status)
	}
	if len(resp.Vehicles) == 0 {
		return &LookupResult{Outcome: OutcomeNotFound}, nil
	}

	outcome := OutcomeSingleVehicle
	if len(resp.Vehicles) > 1 {
		outcome = OutcomeMultipleVehicles
	}
	return &LookupResult{
		Outcome:    outcome,
		CustomerID: resp.CustomerID,
		Vehicles:   resp.Vehicles,
	}, nil
}

type vehicleRequest struct {
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	CustomerID string `json:"customer_id"`
	VehicleID  string `json:"vehicle_id"`
}

// Vehicle re-validates a customer/vehicle pairing.
func (c *Client) Vehicle(ctx context.Context, email, phone, customerID, vehicleID string) (*Vehicle, error) {
	var resp Vehicle
	status, err := c.post(ctx, "/v1/vehicles/validate", vehicleRequest{
		Email:      email,
		Phone:      phone,
		CustomerID: customerID,
		VehicleID:  vehicleID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("directory vehicle: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrDirectoryMismatch
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("directory vehicle: %w (status %d)", domain.ErrDirectoryUnavailable, status)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-Api-Key", c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
