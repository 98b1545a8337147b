package main

import (
	"fmt"

	"github.com/cuemby/beads/pkg/actor"
	"github.com/cuemby/beads/pkg/log"
	"github.com/cuemby/beads/pkg/reconciler"
	"github.com/cuemby/beads/pkg/scheduler"
)

// dagSupervisorHandler watches corrective actions the reconciler applies to
// the DAG. A bead that keeps needing correction is thrashing — drifting out
// of the live projection and getting recreated or cancelled every cycle
// without ever settling — so once a bead crosses threshold corrections the
// supervisor cancels it outright instead of letting the reconciler retry it
// forever. State is scoped to a single actor generation: a supervised
// restart after a panic starts the thrash counters over, which is
// acceptable since the durable log is the source of truth, not this cache.
type dagSupervisorHandler struct {
	sched     *scheduler.Scheduler
	threshold int
	counts    map[string]int
}

func newDAGSupervisorHandler(sched *scheduler.Scheduler, threshold int) *dagSupervisorHandler {
	return &dagSupervisorHandler{sched: sched, threshold: threshold, counts: make(map[string]int)}
}

func (h *dagSupervisorHandler) HandleCommand(cmd actor.Command) {
	if cmd.Kind != "corrective" {
		return
	}
	corrective, ok := cmd.Payload.(reconciler.CorrectiveCommand)
	if !ok {
		return
	}

	h.counts[corrective.BeadID]++
	if h.counts[corrective.BeadID] < h.threshold {
		return
	}

	logger := log.WithComponent("dag-supervisor")
	if err := h.sched.HandleBeadCancelled(corrective.BeadID); err != nil {
		logger.Warn().Err(err).Str("bead_id", corrective.BeadID).Msg("failed to cancel thrashing bead")
		return
	}
	logger.Warn().Str("bead_id", corrective.BeadID).Int("corrections", h.counts[corrective.BeadID]).
		Msg("cancelled bead after repeated reconciler corrections")
	delete(h.counts, corrective.BeadID)
}

func (h *dagSupervisorHandler) HandleQuery(q actor.Query) (any, error) {
	switch q.Kind {
	case "thrash-count":
		beadID, _ := q.Payload.(string)
		return h.counts[beadID], nil
	default:
		return nil, fmt.Errorf("dag-supervisor: unknown query kind %q", q.Kind)
	}
}
