//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
	pconfig "github.com/idpfunnel/api/internal/platform/config"
	ppostgres "github.com/idpfunnel/api/internal/platform/postgres"
	"github.com/idpfunnel/api/internal/repositories"
)

func openTestClient(t *testing.T) *ppostgres.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	client, err := ppostgres.Open(pconfig.PostgresConfig{DSN: dsn, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

func TestApplicationRepositoryIntegration(t *testing.T) {
	client := openTestClient(t)
	repo, err := NewApplicationRepository(client)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	id := "app_it_" + now.Format("20060102150405.000")
	app := domain.Application{
		ID:               id,
		Status:           domain.ApplicationStatusDraft,
		Applicant:        domain.Applicant{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"},
		Permits:          []string{"idp"},
		ShippingCategory: domain.ShippingDomestic,
		ProcessingSpeed:  domain.SpeedStandard,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.Insert(ctx, app); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = repo.Insert(ctx, app)
	if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	app.Status = domain.ApplicationStatusAwaitingPayment
	app.PaymentIntentID = "pi_" + id
	if err := repo.Update(ctx, app); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.FindByPaymentIntent(ctx, app.PaymentIntentID)
	if err != nil {
		t.Fatalf("find by intent: %v", err)
	}
	if got.ID != id || got.Status != domain.ApplicationStatusAwaitingPayment {
		t.Fatalf("unexpected application %+v", got)
	}

	_, err = repo.FindByID(ctx, "app_missing")
	if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCouponRepositoryIntegration(t *testing.T) {
	client := openTestClient(t)
	repo, err := NewCouponRepository(client)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	ctx := context.Background()

	code := "IT" + time.Now().UTC().Format("150405")
	limit := 1
	rule := domain.CouponRule{Code: code, Kind: domain.CouponPercentage, Value: decimal.NewFromInt(10), Active: true, MaxUses: &limit}
	if err := repo.Upsert(ctx, rule, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.IncrementUses(ctx, code); err != nil {
		t.Fatalf("increment: %v", err)
	}
	err = repo.IncrementUses(ctx, code)
	if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsConflict() {
		t.Fatalf("expected conflict once exhausted, got %v", err)
	}

	rule.Value = decimal.NewFromInt(50)
	if err := repo.Upsert(ctx, rule, false); err != nil {
		t.Fatalf("upsert without overwrite: %v", err)
	}
	got, err := repo.FindByCode(ctx, code)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.Value.Equal(decimal.NewFromInt(10)) || got.Uses != 1 {
		t.Fatalf("expected original rule with one use, got %+v", got)
	}
	if got.RedemptionStatus(time.Now()) != domain.CouponStatusExhausted {
		t.Fatalf("expected exhausted status, got %s", got.RedemptionStatus(time.Now()))
	}
}
