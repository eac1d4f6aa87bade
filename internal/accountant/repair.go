package accountant

import (
	"context"
	"time"
)

// RepairAllUserPositions runs the startup repair sweep spec.md 4.9 and 7
// require: every local user whose position store shows pending_postings
// stuck above zero (left there by an unclean shutdown mid post_or_fail)
// is disabled and queued for CheckUser.
func (a *Accountant) RepairAllUserPositions(ctx context.Context) error {
	users, err := a.store.ListUsers()
	if err != nil {
		return withMessage(ErrStorageError, err.Error())
	}

	for _, u := range users {
		positions, err := a.store.ListPositions(u.Username)
		if err != nil {
			return withMessage(ErrStorageError, err.Error())
		}
		stuck := false
		for _, p := range positions {
			if p.PendingPostings > 0 {
				stuck = true
				break
			}
		}
		if stuck {
			a.RepairUserPosition(ctx, u.Username)
		}
	}
	return nil
}

// RepairUserPosition disables the user, force-resets every one of their
// positions' pending_postings to zero, and schedules CheckUser to run
// again after one quiescence interval.
func (a *Accountant) RepairUserPosition(ctx context.Context, username string) {
	a.disableUser(username)

	positions, err := a.store.ListPositions(username)
	if err != nil {
		a.log.Error("repair_user_position: failed to list positions", "username", username, "error", err)
		return
	}
	for _, p := range positions {
		if err := a.store.ResetPendingToZero(p.Username, p.Contract); err != nil {
			a.log.Error("repair_user_position: failed to reset pending_postings", "username", username, "contract", p.Contract, "error", err)
		}
	}

	go a.scheduleCheckUser(ctx, username)
}

func (a *Accountant) scheduleCheckUser(ctx context.Context, username string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(quiescencePoll):
	}
	a.CheckUser(ctx, username)
}

// CheckUser re-examines a disabled user's positions. If any position still
// shows non-zero pending_postings, the user stays disabled and another
// check is scheduled. Once every position is quiet, each position's
// canonical value is recomputed from the ledger, written back with a new
// checkpoint, and the user is re-enabled.
func (a *Accountant) CheckUser(ctx context.Context, username string) {
	positions, err := a.store.ListPositions(username)
	if err != nil {
		a.log.Error("check_user: failed to list positions", "username", username, "error", err)
		go a.scheduleCheckUser(ctx, username)
		return
	}

	for _, p := range positions {
		if p.PendingPostings != 0 {
			go a.scheduleCheckUser(ctx, username)
			return
		}
	}

	for _, p := range positions {
		canonical, err := a.ledger.CanonicalPosition(ctx, username, p.Contract)
		if err != nil {
			a.log.Error("check_user: canonical_position failed", "username", username, "contract", p.Contract, "error", err)
			go a.scheduleCheckUser(ctx, username)
			return
		}
		if err := a.store.SetCheckpoint(username, p.Contract, canonical, time.Now()); err != nil {
			a.log.Error("check_user: failed to write checkpoint", "username", username, "contract", p.Contract, "error", err)
			go a.scheduleCheckUser(ctx, username)
			return
		}
	}

	a.enableUser(username)
}
