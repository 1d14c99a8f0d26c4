package corok

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/chans"
)

// SelectClause is one arm of a Select call. Exactly one clause's action
// runs; building the clause list is how callers express OnReceive/OnSend/
// OnTimeout (spec.md §4.6 "select { onReceive(ch){...}; onSend(ch,v){...};
// onTimeout(d){...} }").
//
// A clause is a registration-then-commit protocol, not a blocking call
// raced to completion: claim is the single CAS gate shared by every clause
// in the enclosing Select, consulted by the clause (or the chans.Channel it
// wraps) at the exact instant it is about to take effect, never before.
// commit is called only once claim has already succeeded, to run the
// clause's caller-supplied action. A clause that never finds claim
// succeeding must return nil having produced no observable effect at all
// (spec.md §4.6 "clauses not chosen must leave no observable side effect").
type SelectClause func(ctx context.Context, claim func() bool, commit func(fn func())) error

// OnReceive builds a clause that receives from ch and passes the value to
// onValue if this clause wins the select. The receive is registered on ch
// as a select-aware waiter; it only dequeues a real element once claim
// succeeds, so a losing OnReceive never consumes anything (spec.md §4.6).
func OnReceive[T any](ch *chans.Channel[T], onValue func(v T)) SelectClause {
	return func(ctx context.Context, claim func() bool, commit func(fn func())) error {
		v, err := ch.ReceiveWithClaim(ctx, claim)
		if err != nil {
			if errors.Is(err, cerr.ErrNotChosen) {
				return nil
			}
			return err
		}
		commit(func() { onValue(v) })
		return nil
	}
}

// OnSend builds a clause that sends v on ch and runs onSent if this clause
// wins the select. The send is registered on ch as a select-aware waiter;
// it only delivers v once claim succeeds, so a losing OnSend never hands
// its value off (spec.md §4.6).
func OnSend[T any](ch *chans.Channel[T], v T, onSent func()) SelectClause {
	return func(ctx context.Context, claim func() bool, commit func(fn func())) error {
		err := ch.SendWithClaim(ctx, v, claim)
		if err != nil {
			if errors.Is(err, cerr.ErrNotChosen) {
				return nil
			}
			return err
		}
		commit(onSent)
		return nil
	}
}

// OnTimeout builds a clause that wins after d elapses, running onTimeout.
// The timer firing only produces an effect if it still wins claim — another
// clause may have already committed in the meantime.
func OnTimeout(d time.Duration, onTimeout func()) SelectClause {
	return func(ctx context.Context, claim func() bool, commit func(fn func())) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			if !claim() {
				return nil
			}
			commit(onTimeout)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Select runs every clause concurrently against one shared claim gate and
// commits exactly one winner's action (spec.md §4.6). claim is a single
// atomic CAS cell: the first clause to flip it from open to claimed is the
// only one whose operation is allowed to actually take effect, so clauses
// that lose the race are guaranteed to have performed no observable
// channel operation at all, rather than having performed one and then
// discarded its result. It blocks until either a clause commits or ctx is
// done.
func Select(ctx context.Context, clauses ...SelectClause) error {
	selectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var state int32 // 0 = open, 1 = claimed
	winCh := make(chan func(), 1)

	claim := func() bool {
		return atomic.CompareAndSwapInt32(&state, 0, 1)
	}
	commit := func(fn func()) {
		// claim already succeeded for whoever calls commit, so there is
		// exactly one committer; the buffered send never blocks.
		winCh <- fn
	}

	for _, clause := range clauses {
		go func(c SelectClause) {
			_ = c(selectCtx, claim, commit)
		}(clause)
	}

	select {
	case fn := <-winCh:
		cancel()
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
