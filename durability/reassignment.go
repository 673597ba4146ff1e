package durability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
)

// NodeReassignment hands the rows of dormant nodes to AnyNode.
type NodeReassignment struct {
	store   Store
	node    envelope.NodeID
	emitter Emitter
	logger  *slog.Logger
}

// NewNodeReassignment creates the reassignment action for node.
func NewNodeReassignment(store Store, node envelope.NodeID, emitter Emitter, logger *slog.Logger) *NodeReassignment {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeReassignment{store: store, node: node, emitter: emitter, logger: logger}
}

// Name implements Action.
func (r *NodeReassignment) Name() string { return "node-reassignment" }

// Execute runs one reassignment pass. It returns nil without doing anything
// when another node holds the reassignment lock. On error nothing from the
// pass is committed.
func (r *NodeReassignment) Execute(ctx context.Context) (err error) {
	sess, err := r.store.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("reassignment: open session: %w", err)
	}
	defer func() {
		err = errors.Join(err, sess.Close(context.WithoutCancel(ctx)))
	}()

	tx, err := sess.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reassignment: begin: %w", err)
	}

	ok, err := sess.TryGetGlobalLock(ctx, courier.ReassignmentLockID)
	if err != nil {
		return r.rollback(ctx, tx, fmt.Errorf("reassignment: lock: %w", err))
	}
	if !ok {
		return r.rollback(ctx, tx, nil)
	}
	defer func() {
		if rerr := sess.ReleaseGlobalLock(context.WithoutCancel(ctx), courier.ReassignmentLockID); rerr != nil {
			err = errors.Join(err, fmt.Errorf("reassignment: release lock: %w", rerr))
		}
	}()

	owners, err := tx.FindUniqueOwners(ctx, r.node)
	if err != nil {
		return r.rollback(ctx, tx, fmt.Errorf("reassignment: find owners: %w", err))
	}

	var dormant []envelope.NodeID
	for _, owner := range owners {
		if owner == envelope.AnyNode || owner == r.node {
			continue
		}

		free, err := tx.TryGetGlobalTxLock(ctx, int64(owner))
		if err != nil {
			return r.rollback(ctx, tx, fmt.Errorf("reassignment: probe node %d: %w", owner, err))
		}
		if !free {
			continue
		}

		if err := tx.ReassignDormantNodeToAnyNode(ctx, owner); err != nil {
			return r.rollback(ctx, tx, fmt.Errorf("reassignment: reassign node %d: %w", owner, err))
		}
		dormant = append(dormant, owner)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reassignment: commit: %w", err)
	}

	for _, owner := range dormant {
		r.logger.Info("reassigned dormant node",
			slog.Int("owner_id", int(owner)),
			slog.Int("node_id", int(r.node)),
		)
		if r.emitter != nil {
			r.emitter.EmitNodeReassigned(ctx, owner)
		}
	}
	return nil
}

func (r *NodeReassignment) rollback(ctx context.Context, tx Tx, cause error) error {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("reassignment: rollback: %w", err))
	}
	return cause
}
