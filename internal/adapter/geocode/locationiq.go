package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
)

var ErrDistrictNotFound = fmt.Errorf("district not found")

var domain = "https://us1.locationiq.com"

// LocationIQClient resolves a coordinate to a human-readable district
// name for the driver's status bar.
type LocationIQClient struct {
	apiKey string
	httpc  *http.Client
}

func New(apiKey string) *LocationIQClient {
	return &LocationIQClient{
		apiKey: apiKey,
		httpc:  &http.Client{Timeout: 10 * time.Second},
	}
}

type reversePayload struct {
	Address struct {
		Suburb  string `json:"suburb"`
		City    string `json:"city"`
		County  string `json:"county"`
		Display string `json:"-"`
	} `json:"address"`
	DisplayName string `json:"display_name"`
}

// District reverse-geocodes the coordinate and returns the most specific
// area name available.
func (c *LocationIQClient) District(ctx context.Context, latitude, longitude float64) (string, error) {
	const op = "LocationIQClient.District"
	ctx = wrap.WithAction(ctx, "reverse_geocode")

	url := fmt.Sprintf("%s/v1/reverse?key=%s&lat=%f&lon=%f&format=json", domain, c.apiKey, latitude, longitude)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", wrap.Error(ctx, fmt.Errorf("%s: %w", op, err))
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", wrap.Error(ctx, fmt.Errorf("%s: failed to make request to LocationIQ: %w", op, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", wrap.Error(ctx, fmt.Errorf("%s: unexpected response status %d", op, resp.StatusCode))
	}

	var payload reversePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", wrap.Error(ctx, fmt.Errorf("%s: failed to decode LocationIQ response: %w", op, err))
	}

	switch {
	case payload.Address.Suburb != "":
		return payload.Address.Suburb, nil
	case payload.Address.City != "":
		return payload.Address.City, nil
	case payload.Address.County != "":
		return payload.Address.County, nil
	case payload.DisplayName != "":
		return payload.DisplayName, nil
	}

	return "", wrap.Error(ctx, ErrDistrictNotFound)
}
