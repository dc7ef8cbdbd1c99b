package quality

import (
	"context"
	"fmt"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/reslice"
)

// RoundTrip reslices src into plane via, reslices the result back into the
// plane of src and compares it with src. Intermediate series are discarded.
func RoundTrip(ctx context.Context, p *reslice.Pipeline, src *models.Series, via orientation.Plane) (Metrics, error) {
	own := src.Orientation
	if own == orientation.Unknown {
		own = orientation.Axial
	}
	if via == own {
		return Metrics{}, fmt.Errorf("series %s is already %s", src.ID, via)
	}

	original, err := p.Materialize(ctx, src.ID)
	if err != nil {
		return Metrics{}, err
	}

	forward, err := p.Reslice(ctx, src.ID, via)
	if err != nil {
		return Metrics{}, err
	}
	defer p.Discard(forward.ID)
	if _, err := p.Materialize(ctx, forward.ID); err != nil {
		return Metrics{}, err
	}

	back, err := p.Reslice(ctx, forward.ID, own)
	if err != nil {
		return Metrics{}, err
	}
	defer p.Discard(back.ID)
	reproduced, err := p.Materialize(ctx, back.ID)
	if err != nil {
		return Metrics{}, err
	}

	return Compare(original, reproduced)
}
