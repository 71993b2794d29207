package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Projector maintains the journey flow projection: Step nodes connected by
// TRANSITIONED edges carrying traversal counts. Writes are best effort; a
// failed projection never blocks execution advancement.
type Projector struct {
	client *Client
	logger logging.Logger
}

// NewProjector creates the flow projector
func NewProjector(client *Client, logger logging.Logger) *Projector {
	return &Projector{
		client: client,
		logger: logger,
	}
}

// RecordTransition merges both step nodes and increments the traversal count
// on the edge between them
func (p *Projector) RecordTransition(ctx context.Context, exec *models.JourneyExecution, fromStepID, toStepID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.RecordTransition")
	defer span.End()

	cypher := `
		MERGE (from:Step {id: $from_id, tenant_id: $tenant_id, journey_id: $journey_id})
		MERGE (to:Step {id: $to_id, tenant_id: $tenant_id, journey_id: $journey_id})
		MERGE (from)-[r:TRANSITIONED {tenant_id: $tenant_id}]->(to)
		ON CREATE SET r.count = 1
		ON MATCH SET r.count = r.count + 1
		SET r.last_execution_id = $execution_id
	`

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"from_id":      fromStepID,
			"to_id":        toStepID,
			"tenant_id":    exec.TenantID,
			"journey_id":   exec.JourneyID,
			"execution_id": exec.ID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"from_step": fromStepID,
			"to_step":   toStepID,
		}).Warn("Failed to project step transition")
		return err
	}
	return nil
}

// StepTransition is one edge of a journey's flow projection
type StepTransition struct {
	FromStepID string `json:"from_step_id"`
	ToStepID   string `json:"to_step_id"`
	Count      int64  `json:"count"`
}

// JourneyFlow reads the aggregated transition counts for one journey
func (p *Projector) JourneyFlow(ctx context.Context, tenantID, journeyID string) ([]StepTransition, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.JourneyFlow")
	defer span.End()

	cypher := `
		MATCH (from:Step {tenant_id: $tenant_id, journey_id: $journey_id})-[r:TRANSITIONED]->(to:Step)
		RETURN from.id AS from_id, to.id AS to_id, r.count AS count
		ORDER BY count DESC
	`

	res, err := p.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"tenant_id":  tenantID,
			"journey_id": journeyID,
		})
		if err != nil {
			return nil, err
		}

		var transitions []StepTransition
		for result.Next(ctx) {
			record := result.Record()
			fromID, _ := record.Get("from_id")
			toID, _ := record.Get("to_id")
			count, _ := record.Get("count")

			t := StepTransition{}
			if s, ok := fromID.(string); ok {
				t.FromStepID = s
			}
			if s, ok := toID.(string); ok {
				t.ToStepID = s
			}
			if n, ok := count.(int64); ok {
				t.Count = n
			}
			transitions = append(transitions, t)
		}
		return transitions, result.Err()
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to read journey flow projection")
		return nil, err
	}
	return res.([]StepTransition), nil
}
