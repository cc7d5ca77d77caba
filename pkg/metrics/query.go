package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// WorkspaceMetrics aggregates execution outcomes for one workspace.
type WorkspaceMetrics struct {
	WorkspaceID string `json:"workspace_id"`
	Promoted    int64  `json:"promoted"`
	Rejected    int64  `json:"rejected"`
	Repairs     int64  `json:"repairs"`
}

// QueryService queries aggregated metrics back out of Prometheus for
// reporting endpoints.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetWorkspaceMetrics retrieves promotion and repair counts for a workspace.
func (q *QueryService) GetWorkspaceMetrics(ctx context.Context, workspaceID string) (*WorkspaceMetrics, error) {
	m := &WorkspaceMetrics{WorkspaceID: workspaceID}

	promotedQuery := fmt.Sprintf(
		`sum(workbench_promotions_total{workspace_id=%q, outcome="promoted"})`, workspaceID)
	promoted, err := q.queryScalar(ctx, promotedQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	m.Promoted = promoted

	rejectedQuery := fmt.Sprintf(
		`sum(workbench_promotions_total{workspace_id=%q, outcome="rejected"})`, workspaceID)
	rejected, err := q.queryScalar(ctx, rejectedQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	m.Rejected = rejected

	repairs, err := q.queryScalar(ctx, `sum(workbench_repairs_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query repairs: %w", err)
	}
	m.Repairs = repairs

	return m, nil
}

func (q *QueryService) queryScalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
