package durability

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/courier/advisory"
)

// RunExclusive runs fn while holding the session lock id. When locker is
// nil a dedicated session is opened for the call. It reports false without
// running fn when another session holds the lock.
func RunExclusive(ctx context.Context, opener SessionOpener, locker advisory.Locker, id int64, fn func(context.Context) error) (ran bool, err error) {
	if locker == nil {
		sess, err := opener.OpenSession(ctx)
		if err != nil {
			return false, fmt.Errorf("open session: %w", err)
		}
		defer func() {
			err = errors.Join(err, sess.Close(context.WithoutCancel(ctx)))
		}()
		locker = sess
	}

	ok, err := locker.TryGetGlobalLock(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lock %d: %w", id, err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		if rerr := locker.ReleaseGlobalLock(context.WithoutCancel(ctx), id); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release lock %d: %w", id, rerr))
		}
	}()

	return true, fn(ctx)
}
