package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
)

func TestGrantPackageValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, c := range []struct {
		user          string
		credits, days int
	}{{"", 5, 30}, {"alice", 0, 30}, {"alice", 5, 0}} {
		if _, err := f.engine.Credits.GrantPackage(ctx, c.user, c.credits, c.days); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("grant %+v: expected ErrInvalidInput, got %v", c, err)
		}
	}
	p, err := f.engine.Credits.GrantPackage(ctx, "alice", 10, 30)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if p.CreditsRemaining != 10 || !p.ExpiresAt.Equal(baseTime.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected package: %+v", p)
	}
}

func TestConsumeUsesSoonestExpiringPackage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	late, _ := f.engine.Credits.GrantPackage(ctx, "alice", 3, 60)
	soon, _ := f.engine.Credits.GrantPackage(ctx, "alice", 1, 10)
	inst := f.instance(t, 5)

	res, err := f.engine.Bookings.ReserveSeat(ctx, inst.ID, "alice", model.PaymentCredit)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if *res.Booking.PackageID != soon.ID {
		t.Fatalf("expected package %s, got %s", soon.ID, *res.Booking.PackageID)
	}

	other := f.instance(t, 5)
	res, err = f.engine.Bookings.ReserveSeat(ctx, other.ID, "alice", model.PaymentCredit)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if *res.Booking.PackageID != late.ID {
		t.Fatalf("expected fallback to %s, got %s", late.ID, *res.Booking.PackageID)
	}
}

func TestConsumeTieBreaksByCreationOrder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first, _ := f.engine.Credits.GrantPackage(ctx, "alice", 1, 30)
	if _, err := f.engine.Credits.GrantPackage(ctx, "alice", 1, 30); err != nil {
		t.Fatalf("grant: %v", err)
	}

	var got string
	err := f.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		got, err = f.engine.Credits.consume(ctx, tx, "alice", "", f.clock.Now())
		return err
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got != first.ID {
		t.Fatalf("expected %s, got %s", first.ID, got)
	}
}

func TestRefundNeverExceedsPurchase(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	p, _ := f.engine.Credits.GrantPackage(ctx, "alice", 2, 30)

	err := f.store.WithTx(ctx, func(tx repository.Tx) error {
		return f.engine.Credits.refund(ctx, tx, "alice", p.ID)
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	got, _ := f.store.GetPackage(ctx, p.ID)
	if got.CreditsRemaining != 2 {
		t.Fatalf("expected 2 credits, got %d", got.CreditsRemaining)
	}
	err = f.store.WithTx(ctx, func(tx repository.Tx) error {
		return f.engine.Credits.refund(ctx, tx, "bob", p.ID)
	})
	if err == nil {
		t.Fatal("refunding into another member's package must fail")
	}
}

func TestExpireStalePackages(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	short, _ := f.engine.Credits.GrantPackage(ctx, "alice", 4, 1)
	long, _ := f.engine.Credits.GrantPackage(ctx, "alice", 2, 30)

	f.clock.Advance(48 * time.Hour)
	n, err := f.engine.Credits.ExpireStalePackages(ctx, f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("expected one package expired, got %d, %v", n, err)
	}
	if p, _ := f.store.GetPackage(ctx, short.ID); p.CreditsRemaining != 0 {
		t.Fatalf("expected expired package zeroed, got %d", p.CreditsRemaining)
	}
	if p, _ := f.store.GetPackage(ctx, long.ID); p.CreditsRemaining != 2 {
		t.Fatalf("live package must keep its credits, got %d", p.CreditsRemaining)
	}
	if n, _ := f.engine.Credits.ExpireStalePackages(ctx, f.clock.Now()); n != 0 {
		t.Fatalf("second sweep should change nothing, got %d", n)
	}
	if bal, _ := f.engine.Credits.Balance(ctx, "alice", f.clock.Now()); bal != 2 {
		t.Fatalf("expected balance 2, got %d", bal)
	}
}
