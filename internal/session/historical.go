package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/snapshot"
)

// maxConcurrentPulls bounds per-unit history requests in flight.
const maxConcurrentPulls = 8

// nullPayload stands in for units a batch report left out.
var nullPayload = json.RawMessage("null")

// Puller performs the one-shot historical requests.
type Puller interface {
	History(ctx context.Context, view protocol.ViewKind, unit string, r protocol.TimeRange, wm protocol.WorkingMode) (json.RawMessage, error)
	Report(ctx context.Context, units []string, r protocol.TimeRange, wm protocol.WorkingMode) (*protocol.ReportEnvelope, error)
}

// fetchHistorical pulls everything a historical session shows and returns
// the single version-0 snapshot. The first failed pull cancels the rest.
func fetchHistorical(ctx context.Context, puller Puller, p Params) (*snapshot.Snapshot, error) {
	if p.View == protocol.ViewReport {
		env, err := puller.Report(ctx, p.EntityIDs, p.Range, p.WorkingMode)
		if err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		per := make(map[string]json.RawMessage, len(p.EntityIDs))
		for _, id := range p.EntityIDs {
			if raw, ok := env.Units[id]; ok {
				per[id] = raw
			} else {
				per[id] = nullPayload
			}
		}
		return &snapshot.Snapshot{
			PerEntity:   per,
			Aggregate:   env.Summary,
			PublishedAt: time.Now(),
		}, nil
	}

	results := make([]json.RawMessage, len(p.EntityIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPulls)
	for i, id := range p.EntityIDs {
		i, id := i, id
		g.Go(func() error {
			raw, err := puller.History(gctx, p.View, id, p.Range, p.WorkingMode)
			if err != nil {
				return fmt.Errorf("unit %s: %w", id, err)
			}
			results[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	per := make(map[string]json.RawMessage, len(p.EntityIDs))
	for i, id := range p.EntityIDs {
		per[id] = results[i]
	}
	return &snapshot.Snapshot{PerEntity: per, PublishedAt: time.Now()}, nil
}
