package api

import (
	"context"
	"net/http"

	"github.com/Temutjin2k/ride-hail-driver/internal/domain/types"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
)

// GetDriverStatus re-fetches the driver's authoritative status from the
// backend. The movement gate uses it instead of trusting the locally
// cached online flag before pushing a location over the transport.
func (c *Client) GetDriverStatus(ctx context.Context) (types.DriverStatus, error) {
	ctx = wrap.WithAction(ctx, "get_driver_status")

	var resp struct {
		Status types.DriverStatus `json:"status"`
	}
	if err := c.Do(ctx, http.MethodGet, "/v1/drivers/me/status", nil, &resp); err != nil {
		return "", wrap.Error(ctx, err)
	}

	return resp.Status, nil
}
