package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mealcore/pkg/domain"
)

var (
	// ErrTransactionActive is returned by Begin while a scope is open.
	ErrTransactionActive = errors.New("transaction already active")
	// ErrNoActiveTransaction is returned by Commit or Rollback with no open scope.
	ErrNoActiveTransaction = errors.New("no active transaction")
)

// UnitOfWork scopes a group of repository writes into one atomic transaction.
// A UnitOfWork holds at most one open scope; RunInTransaction opens an
// independent scope per call so concurrent requests do not contend on it.
type UnitOfWork struct {
	driver domain.TxDriver

	mu     sync.Mutex
	active domain.TxHandle
}

// NewUnitOfWork returns an idle unit of work over driver.
func NewUnitOfWork(driver domain.TxDriver) *UnitOfWork {
	return &UnitOfWork{driver: driver}
}

// Active reports whether a scope is open.
func (u *UnitOfWork) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active != nil
}

// Begin opens a scope and returns ctx bound to it.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active != nil {
		return ctx, ErrTransactionActive
	}
	tx, err := u.driver.Begin(ctx)
	if err != nil {
		return ctx, domain.InfrastructureError{Op: "begin transaction", Err: err}
	}
	u.active = tx
	return tx.Bind(ctx), nil
}

// Commit applies the open scope. The scope is released even when the driver
// fails.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	tx, err := u.release()
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.InfrastructureError{Op: "commit transaction", Err: err}
	}
	return nil
}

// Rollback discards the open scope. The scope is released even when the
// driver fails.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	tx, err := u.release()
	if err != nil {
		return err
	}
	if err := tx.Rollback(ctx); err != nil {
		return domain.InfrastructureError{Op: "rollback transaction", Err: err}
	}
	return nil
}

func (u *UnitOfWork) release() (domain.TxHandle, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active == nil {
		return nil, ErrNoActiveTransaction
	}
	tx := u.active
	u.active = nil
	return tx, nil
}

// RunInTransaction runs work in a fresh scope. It commits when work succeeds
// and rolls back when work fails or panics. The work error is returned
// unchanged, joined with the rollback error if that also fails.
func (u *UnitOfWork) RunInTransaction(ctx context.Context, work func(ctx context.Context) error) (err error) {
	scope := NewUnitOfWork(u.driver)
	txCtx, err := scope.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if rbErr := scope.Rollback(ctx); rbErr != nil {
				panic(fmt.Sprintf("%v (rollback: %v)", r, rbErr))
			}
			panic(r)
		}
	}()
	if err := work(txCtx); err != nil {
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return scope.Commit(ctx)
}
