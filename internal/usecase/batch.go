package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/spoof-check/internal/inference"
)

// Upload is one file of a batch request.
type Upload struct {
	Filename string
	Data     []byte
}

// BatchItem is the per-file outcome of a batch. Exactly one of Prediction and
// Error is set.
type BatchItem struct {
	Filename   string      `json:"filename"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Error      string      `json:"error,omitempty"`
	Decode     bool        `json:"decode_error,omitempty"`
}

// BatchSummary counts outcomes across a batch.
type BatchSummary struct {
	Total  int `json:"total"`
	Real   int `json:"real"`
	Spoof  int `json:"spoof"`
	Failed int `json:"failed"`
}

// BatchReport holds batch results in input order.
type BatchReport struct {
	Items   []BatchItem  `json:"results"`
	Summary BatchSummary `json:"summary"`
}

// PredictBatch classifies every upload independently on a bounded worker
// pool. A failing file is reported in its item and never stops the others;
// files not yet started when ctx ends are reported with ctx's error.
func (uc *PredictionUseCase) PredictBatch(ctx context.Context, uploads []Upload) *BatchReport {
	done := uc.metrics.BatchStarted(len(uploads))
	defer done()

	items := make([]BatchItem, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.workers)
	for i, up := range uploads {
		i, up := i, up
		g.Go(func() error {
			items[i] = uc.predictItem(gctx, up)
			return nil
		})
	}
	_ = g.Wait()

	report := &BatchReport{Items: items}
	report.Summary = summarize(items)
	uc.logger.Info("batch complete",
		zap.Int("total", report.Summary.Total),
		zap.Int("real", report.Summary.Real),
		zap.Int("spoof", report.Summary.Spoof),
		zap.Int("failed", report.Summary.Failed),
	)
	return report
}

func (uc *PredictionUseCase) predictItem(ctx context.Context, up Upload) BatchItem {
	item := BatchItem{Filename: up.Filename}
	if err := ctx.Err(); err != nil {
		item.Error = err.Error()
		return item
	}
	pred, err := uc.Predict(ctx, up.Filename, up.Data)
	if err != nil {
		item.Error = err.Error()
		item.Decode = errors.Is(err, inference.ErrDecode)
		return item
	}
	item.Prediction = pred
	return item
}

func summarize(items []BatchItem) BatchSummary {
	s := BatchSummary{Total: len(items)}
	for _, it := range items {
		switch {
		case it.Prediction == nil:
			s.Failed++
		case it.Prediction.Label == inference.LabelReal:
			s.Real++
		default:
			s.Spoof++
		}
	}
	return s
}
