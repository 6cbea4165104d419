// Package seedfn materializes blueprints on request. It backs a Lambda
// function that seeds test environments with fixture records.
package seedfn

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jacentio/grove/factory"
)

// MaxCount bounds the number of records one request may materialize.
const MaxCount = 1000

// ErrInvalidRequest is returned for requests that cannot be served.
var ErrInvalidRequest = errors.New("grove: invalid seed request")

// Request asks for Count records of Blueprint.
type Request struct {
	Blueprint string         `json:"blueprint"`
	Count     int            `json:"count,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`

	// Create persists the records. When false they are only built.
	Create bool `json:"create,omitempty"`
}

// Response carries the materialized records in creation order.
type Response struct {
	Blueprint string           `json:"blueprint"`
	Records   []map[string]any `json:"records"`
}

// Handler serves seed requests from one factory.
type Handler struct {
	factory *factory.Factory
	logger  *zap.Logger
}

// NewHandler creates a new seed handler. A nil logger discards output.
func NewHandler(f *factory.Factory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{factory: f, logger: logger}
}

// HandleSeed builds or creates the requested records. A zero Count means one.
func (h *Handler) HandleSeed(ctx context.Context, req Request) (Response, error) {
	if req.Blueprint == "" {
		return Response{}, fmt.Errorf("%w: blueprint is required", ErrInvalidRequest)
	}
	n := req.Count
	if n == 0 {
		n = 1
	}
	if n < 0 || n > MaxCount {
		return Response{}, fmt.Errorf("%w: count %d outside [1, %d]", ErrInvalidRequest, req.Count, MaxCount)
	}

	log := h.logger.With(
		zap.String("blueprint", req.Blueprint),
		zap.Int("count", n),
		zap.Bool("create", req.Create),
	)

	resp := Response{Blueprint: req.Blueprint, Records: make([]map[string]any, 0, n)}
	if req.Create {
		records, err := h.factory.CreateN(ctx, req.Blueprint, n, req.Overrides)
		if err != nil {
			log.Error("seed failed", zap.Error(err))
			return Response{}, err
		}
		for _, rec := range records {
			resp.Records = append(resp.Records, rec)
		}
	} else {
		bags, err := h.factory.BuildN(ctx, req.Blueprint, n, req.Overrides)
		if err != nil {
			log.Error("seed failed", zap.Error(err))
			return Response{}, err
		}
		for _, bag := range bags {
			resp.Records = append(resp.Records, bag)
		}
	}

	log.Info("seeded", zap.Int("records", len(resp.Records)))
	return resp, nil
}
