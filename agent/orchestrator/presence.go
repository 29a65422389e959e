package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/careflow/agent/conversation"
)

// ProbePresence probes every agent concurrently and keeps the ones that
// answered, in roster order. Agents that cannot be probed count as present.
// A failed probe only drops that agent.
func ProbePresence(ctx context.Context, agents []conversation.Agent, timeout time.Duration, logger *zap.Logger) []conversation.Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	present := make([]bool, len(agents))
	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			prober, ok := a.(conversation.Prober)
			if !ok {
				present[i] = true
				return nil
			}
			if err := prober.Probe(ctx); err != nil {
				logger.Warn("agent presence probe failed", zap.String("agent", a.Name()), zap.Error(err))
				return nil
			}
			present[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]conversation.Agent, 0, len(agents))
	for i, a := range agents {
		if present[i] {
			out = append(out, a)
		}
	}
	return out
}
