// Package lookup talks to the external consumer-data services (gold rates,
// traffic challans, PNR status) and exposes them to the model as tools.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// GoldRates is the daily bullion quote
type GoldRates struct {
	Gold24K   float64 `json:"gold24k"`
	Gold22K   float64 `json:"gold22k"`
	Silver    float64 `json:"silver"`
	Timestamp string  `json:"timestamp"`
}

// Challan is one traffic violation record
type Challan struct {
	ID            string  `json:"id"`
	VehicleNumber string  `json:"vehicleNumber"`
	Amount        float64 `json:"amount"`
	Violation     string  `json:"violation"`
	Date          string  `json:"date"`
	Status        string  `json:"status"` // PENDING | PAID
}

// PNRStatus is a railway reservation status
type PNRStatus struct {
	PNR         string   `json:"pnr"`
	TrainName   string   `json:"trainName"`
	Date        string   `json:"date"`
	Status      string   `json:"status"` // CNF | WL | RAC
	Probability *float64 `json:"probability,omitempty"`
}

// Config holds the upstream service endpoints
type Config struct {
	GoldRatesURL string
	ChallanURL   string
	PNRURL       string
	Timeout      time.Duration
	Logger       zerolog.Logger
}

// Client queries the lookup services over HTTP
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a lookup client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// GoldRates fetches today's bullion rates
func (c *Client) GoldRates(ctx context.Context) (*GoldRates, error) {
	var rates GoldRates
	if err := c.getJSON(ctx, c.cfg.GoldRatesURL, nil, &rates); err != nil {
		return nil, fmt.Errorf("gold rate lookup failed: %w", err)
	}
	return &rates, nil
}

// Challans fetches the challan records for a vehicle
func (c *Client) Challans(ctx context.Context, vehicleNumber string) ([]Challan, error) {
	if vehicleNumber == "" {
		return nil, fmt.Errorf("vehicle number is required")
	}

	challans := []Challan{}
	query := url.Values{"vehicleNumber": {vehicleNumber}}
	if err := c.getJSON(ctx, c.cfg.ChallanURL, query, &challans); err != nil {
		return nil, fmt.Errorf("challan lookup failed: %w", err)
	}
	return challans, nil
}

// PNRStatus fetches the reservation status for a PNR
func (c *Client) PNRStatus(ctx context.Context, pnr string) (*PNRStatus, error) {
	if pnr == "" {
		return nil, fmt.Errorf("pnr is required")
	}

	var status PNRStatus
	query := url.Values{"pnr": {pnr}}
	if err := c.getJSON(ctx, c.cfg.PNRURL, query, &status); err != nil {
		return nil, fmt.Errorf("pnr lookup failed: %w", err)
	}
	return &status, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is not configured")
	}

	target := endpoint
	if len(query) > 0 {
		target = endpoint + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.cfg.Logger.Warn().Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("Lookup request failed")
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
