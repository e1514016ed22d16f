package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store"
)

func TestMovementBatchAppliesAndReverses(t *testing.T) {
	databaseURL := os.Getenv("LEAFTOLIFE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LEAFTOLIFE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	sku := fmt.Sprintf("SKU-REV-IT-%d", stamp)
	reference := fmt.Sprintf("TX-REV-IT-%d", stamp)
	cancelRef := domain.CancelPrefix + reference

	created, err := s.CreateProduct(ctx, domain.Product{
		SKU:               sku,
		Name:              "Integration Tincture",
		Category:          "tincture",
		UnitOfMeasurement: "ml",
		PriceCents:        2500,
		CurrentStock:      100,
		ContainerCapacity: 50,
		Containers:        domain.ContainerLedger{Full: 2},
		Active:            true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, created.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, created.ID)
	})

	at := time.Now().UTC()
	movements, err := s.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference: reference,
		Actor:     "integration",
		AppliedAt: at,
		Entries: []domain.StockApplication{{
			ProductID:    created.ID,
			Delta:        -30,
			MovementType: domain.MovementSale,
			SaleType:     domain.SaleTypeVolume,
		}},
	})
	if err != nil {
		t.Fatalf("apply batch: %v", err)
	}
	if len(movements) != 1 || movements[0].Quantity != -30 {
		t.Fatalf("unexpected movements: %+v", movements)
	}

	after, err := s.GetProductByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.CurrentStock != 70 {
		t.Fatalf("expected stock 70, got %v", after.CurrentStock)
	}
	if after.Containers.Full != 1 || len(after.Containers.Partial) != 1 {
		t.Fatalf("unexpected container state: %+v", after.Containers)
	}

	_, err = s.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference: cancelRef,
		Reversal:  true,
		Actor:     "integration",
		AppliedAt: at,
		Entries: []domain.StockApplication{{
			ProductID:          created.ID,
			Delta:              30,
			MovementType:       domain.MovementReturn,
			SaleType:           domain.SaleTypeVolume,
			RestoreContainerID: movements[0].ContainerID,
		}},
	})
	if err != nil {
		t.Fatalf("reversal batch: %v", err)
	}

	restored, err := s.GetProductByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if restored.CurrentStock != 100 {
		t.Fatalf("expected stock restored to 100, got %v", restored.CurrentStock)
	}

	// Applying the same cancel reference twice must hit the reversal guard.
	_, err = s.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference: cancelRef,
		Reversal:  true,
		Actor:     "integration",
		AppliedAt: at,
		Entries: []domain.StockApplication{{
			ProductID:    created.ID,
			Delta:        30,
			MovementType: domain.MovementReturn,
			SaleType:     domain.SaleTypeVolume,
		}},
	})
	if !errors.Is(err, store.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
}
