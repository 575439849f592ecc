package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Distribution asks the records layer to deliver a document pack to its recipients.
type Distribution struct {
	PackID     uuid.UUID  `json:"pack_id"`
	CompanyID  uuid.UUID  `json:"company_id"`
	SiteID     *uuid.UUID `json:"site_id,omitempty"`
	Method     string     `json:"distribution_method"`
	Recipients []string   `json:"recipients"`
	Message    string     `json:"message,omitempty"`
}

// Distributor hands pack distribution to the records layer.
type Distributor interface {
	DistributePack(ctx context.Context, d Distribution) error
}

// DistributePack posts d to /packs/{id}/distribute, keyed on the pack id.
func (c *HTTPClient) DistributePack(ctx context.Context, d Distribution) error {
	return c.post(ctx, fmt.Sprintf("/packs/%s/distribute", d.PackID), d.PackID.String(), d)
}
