package pipeline

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/internal/records"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// DistributionHandler processes distribution jobs by handing them to the records layer.
type DistributionHandler struct {
	distributor records.Distributor
}

// NewDistributionHandler creates a DistributionHandler.
func NewDistributionHandler(d records.Distributor) *DistributionHandler {
	return &DistributionHandler{distributor: d}
}

// Handle implements worker.Handler.
func (h *DistributionHandler) Handle(ctx context.Context, job *models.Job) error {
	p, err := queue.DecodeDistribution(job)
	if err != nil {
		return err
	}

	if err := h.distributor.DistributePack(ctx, records.Distribution{
		PackID:     p.PackID,
		CompanyID:  p.CompanyID,
		SiteID:     p.SiteID,
		Method:     p.DistributionMethod,
		Recipients: p.Recipients,
		Message:    p.Message,
	}); err != nil {
		return err
	}

	slog.Info("pack distributed",
		"job_id", job.ID,
		"pack_id", p.PackID,
		"method", p.DistributionMethod,
		"recipients", len(p.Recipients),
	)
	return nil
}
