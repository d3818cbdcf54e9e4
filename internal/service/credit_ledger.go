package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

// CreditLedger owns creditsRemaining.  Granting and listing are public;
// consume and refund are only reachable from the booking ledger's unit of
// work so seat and credit movements commit together.
type CreditLedger struct {
	e *Engine
}

// GrantPackage creates a package of credits valid for validityDays.
func (l *CreditLedger) GrantPackage(ctx context.Context, userID string, credits, validityDays int) (*model.UserPackage, error) {
	if userID == "" || credits < 1 || validityDays < 1 {
		return nil, fmt.Errorf("%w: package needs a user, at least one credit and one day of validity", ErrInvalidInput)
	}
	now := l.e.now()
	p := &model.UserPackage{
		ID:               l.e.opts.NewID(),
		UserID:           userID,
		CreditsPurchased: credits,
		CreditsRemaining: credits,
		ExpiresAt:        now.AddDate(0, 0, validityDays),
		CreatedAt:        now,
	}
	err := l.e.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertPackage(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("grant package: %w", storeErr(err))
	}
	return p, nil
}

// ListPackages returns the user's packages, soonest expiry first.
func (l *CreditLedger) ListPackages(ctx context.Context, userID string) ([]model.UserPackage, error) {
	pkgs, err := l.e.store.ListPackagesByUser(ctx, userID)
	return pkgs, storeErr(err)
}

// Balance sums the credits usable at now.
func (l *CreditLedger) Balance(ctx context.Context, userID string, now time.Time) (int, error) {
	pkgs, err := l.e.store.ListPackagesByUser(ctx, userID)
	if err != nil {
		return 0, storeErr(err)
	}
	total := 0
	for i := range pkgs {
		if pkgs[i].Usable(now) {
			total += pkgs[i].CreditsRemaining
		}
	}
	return total, nil
}

// consume draws one credit inside tx and returns the package it came
// from.  With packageID empty the soonest-expiring usable package wins;
// the store orders ties by creation time then id.  ErrInsufficientCredit
// is returned before anything is written.
func (l *CreditLedger) consume(ctx context.Context, tx repository.Tx, userID, packageID string, now time.Time) (string, error) {
	pkgs, err := tx.LockPackages(ctx, userID)
	if err != nil {
		return "", err
	}
	chosen := ""
	for i := range pkgs {
		p := &pkgs[i]
		if packageID != "" && p.ID != packageID {
			continue
		}
		if p.Usable(now) {
			chosen = p.ID
			break
		}
	}
	if chosen == "" {
		return "", ErrInsufficientCredit
	}
	if err := tx.ConsumeCredit(ctx, chosen, now); err != nil {
		return "", err
	}
	return chosen, nil
}

// refund returns one credit to packageID inside tx.  The package keeps its
// original expiry.
func (l *CreditLedger) refund(ctx context.Context, tx repository.Tx, userID, packageID string) error {
	p, err := tx.GetPackage(ctx, packageID)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return fmt.Errorf("refund: package %s does not belong to user %s", packageID, userID)
	}
	return tx.RefundCredit(ctx, packageID)
}

// ExpireStalePackages zeroes the credits of every package past its expiry
// and reports how many packages changed.  Safe to call repeatedly.
func (l *CreditLedger) ExpireStalePackages(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := l.e.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		n, err = tx.ExpirePackages(ctx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("expire packages: %w", storeErr(err))
	}
	if n > 0 {
		log.Printf("credits: expired %d packages", n)
	}
	return n, nil
}
