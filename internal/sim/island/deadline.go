package island

import (
	"context"
	"fmt"
	"time"

	"clawparadise.ai/internal/protocol"
)

// CheckAndAdvanceDeadline resolves the current phase if its deadline has
// passed, defaulting silent participants to pass. It reports whether the
// island advanced; calling it again before the new deadline is a no-op.
func (e *Engine) CheckAndAdvanceDeadline(ctx context.Context, islandID string) (bool, error) {
	unlock := e.locks.Lock(islandKey(islandID))
	defer unlock()

	isl, err := e.loadIsland(ctx, islandID)
	if err != nil {
		return false, err
	}
	if isl.Phase.Closed() || e.now().Before(isl.PhaseDeadline) {
		return false, nil
	}
	if err := e.fillAndResolve(ctx, isl); err != nil {
		return false, err
	}
	return true, nil
}

// ForceAdvance resolves the current phase regardless of the deadline.
func (e *Engine) ForceAdvance(ctx context.Context, islandID string) (*Island, error) {
	unlock := e.locks.Lock(islandKey(islandID))
	defer unlock()

	isl, err := e.loadIsland(ctx, islandID)
	if err != nil {
		return nil, err
	}
	if isl.Phase.Closed() {
		return nil, newError(protocol.ErrPhaseClosed, "cannot advance island %s during %s", isl.ID, isl.Phase)
	}
	if err := e.fillAndResolve(ctx, isl); err != nil {
		return nil, err
	}
	return isl, nil
}

func (e *Engine) fillAndResolve(ctx context.Context, isl *Island) error {
	for _, p := range isl.InPlay() {
		if _, ok := isl.Pending[p.ID]; !ok {
			isl.Pending[p.ID] = Pass{}
		}
	}
	return e.resolveAndCommit(ctx, isl)
}

type AdvanceResult struct {
	Advanced  bool
	Phase     Phase
	Day       int
	Deadline  time.Time
	Submitted int
	InPlay    int
	Message   string
}

// Advance is the operator entry point: force resolves now, otherwise only an
// expired deadline advances the island.
func (e *Engine) Advance(ctx context.Context, islandID string, force bool) (*AdvanceResult, error) {
	if force {
		isl, err := e.ForceAdvance(ctx, islandID)
		if err != nil {
			return nil, err
		}
		return &AdvanceResult{
			Advanced: true,
			Phase:    isl.Phase,
			Day:      isl.Day,
			Deadline: isl.PhaseDeadline,
			Message:  fmt.Sprintf("forced advance to %s", isl.Phase),
		}, nil
	}

	advanced, err := e.CheckAndAdvanceDeadline(ctx, islandID)
	if err != nil {
		return nil, err
	}
	isl, ok, err := e.store.GetIsland(ctx, islandID)
	if err != nil {
		return nil, fmt.Errorf("get island %s: %w", islandID, err)
	}
	if !ok {
		return nil, errArenaNotFound(islandID)
	}
	res := &AdvanceResult{Advanced: advanced, Phase: isl.Phase, Day: isl.Day, Deadline: isl.PhaseDeadline}
	if advanced {
		res.Message = fmt.Sprintf("deadline passed, advanced to %s", isl.Phase)
		return res, nil
	}
	res.InPlay = len(isl.InPlay())
	for _, p := range isl.InPlay() {
		if _, ok := isl.Pending[p.ID]; ok {
			res.Submitted++
		}
	}
	res.Message = fmt.Sprintf("waiting: %d/%d submitted", res.Submitted, res.InPlay)
	return res, nil
}

// SweepDeadlines runs the deadline check on every active island and returns
// how many advanced. Errors on one island do not stop the sweep.
func (e *Engine) SweepDeadlines(ctx context.Context) (int, error) {
	ids, err := e.store.ListActiveIslandIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active islands: %w", err)
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := e.CheckAndAdvanceDeadline(ctx, id)
		if err != nil {
			e.log.Printf("deadline check %s: %v", id, err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}
