package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/cache"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), cache.NoopOverviewCache{}, "main-branch", 5*time.Second)
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func pharmacistContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "pharmacist", Role: "pharmacist"})
}

func mustStock(t *testing.T, svc *Service, productID string) float64 {
	t.Helper()
	product, err := svc.GetProduct(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s failed: %v", productID, err)
	}
	return product.CurrentStock
}

func TestProcessSaleAndReverseRoundTrip(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	if got := mustStock(t, svc, "prd-vitc"); got != 100 {
		t.Fatalf("expected seeded stock 100, got %v", got)
	}

	result, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-1001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-vitc", Quantity: 25, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if len(result.Movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(result.Movements))
	}
	movement := result.Movements[0]
	if movement.Quantity != -25 || movement.MovementType != domain.MovementSale || movement.Reference != "TX-1001" {
		t.Fatalf("unexpected movement: %+v", movement)
	}
	if got := mustStock(t, svc, "prd-vitc"); got != 75 {
		t.Fatalf("expected stock 75 after sale, got %v", got)
	}

	reversed, err := svc.ReverseTransactionInventory(ctx, "TX-1001")
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if !reversed.Success || reversed.ReversedCount != 1 {
		t.Fatalf("unexpected reverse result: %+v", reversed)
	}
	if reversed.Reference != "CANCEL-TX-1001" {
		t.Fatalf("expected cancel reference, got %s", reversed.Reference)
	}
	if got := mustStock(t, svc, "prd-vitc"); got != 100 {
		t.Fatalf("expected stock restored to 100, got %v", got)
	}

	cancels, err := svc.ListMovementsByReference(ctx, "CANCEL-TX-1001")
	if err != nil {
		t.Fatalf("list cancel movements failed: %v", err)
	}
	if len(cancels) != 1 || cancels[0].Quantity != 25 || cancels[0].MovementType != domain.MovementReturn {
		t.Fatalf("unexpected cancel movements: %+v", cancels)
	}
}

func TestBlendSaleDeductsIngredientsProportionally(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	echinaceaBefore := mustStock(t, svc, "prd-echinacea")
	elderberryBefore := mustStock(t, svc, "prd-elderberry")

	result, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-2001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeFixedBlend, BlendTemplateID: "blend-immune", Quantity: 3, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(result.Movements) != 2 {
		t.Fatalf("expected one movement per ingredient, got %d", len(result.Movements))
	}

	// Recipe: 15 ml echinacea + 10 ml elderberry per unit, 3 units sold.
	if got := mustStock(t, svc, "prd-echinacea"); got != echinaceaBefore-45 {
		t.Fatalf("expected echinacea deduction of 45, stock %v -> %v", echinaceaBefore, got)
	}
	if got := mustStock(t, svc, "prd-elderberry"); got != elderberryBefore-30 {
		t.Fatalf("expected elderberry deduction of 30, stock %v -> %v", elderberryBefore, got)
	}

	templates, err := svc.ListBlendTemplates(ctx)
	if err != nil {
		t.Fatalf("list blends failed: %v", err)
	}
	for _, tpl := range templates {
		if tpl.ID != "blend-immune" {
			continue
		}
		if tpl.UsageCount != 3 {
			t.Fatalf("expected usage count 3, got %d", tpl.UsageCount)
		}
		if tpl.LastUsed == nil {
			t.Fatalf("expected last used to be set")
		}
	}
}

func TestBundleExpansionMovementCount(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	result, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-3001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeBundle, BundleID: "bundle-winter", Quantity: 1, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// 2 direct product members plus a blend member with 2 ingredients.
	if len(result.Movements) != 4 {
		t.Fatalf("expected 4 movements, got %d", len(result.Movements))
	}
	for _, movement := range result.Movements {
		if movement.MovementType != domain.MovementBundleSale {
			t.Fatalf("expected bundle_sale movement, got %s", movement.MovementType)
		}
	}
	if got := mustStock(t, svc, "prd-vitc"); got != 99 {
		t.Fatalf("expected vitamin c stock 99, got %v", got)
	}
	if got := mustStock(t, svc, "prd-echinacea"); got != 235 {
		t.Fatalf("expected echinacea stock 235, got %v", got)
	}
}

func TestVolumeSaleDrawsContainersInOrder(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	sell := func(ref string, qty float64) {
		t.Helper()
		_, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
			TransactionNumber: ref,
			Items: []domain.TransactionItem{
				{ItemType: domain.ItemTypeProduct, ProductID: "prd-echinacea", Quantity: qty, SaleType: domain.SaleTypeVolume},
			},
		})
		if err != nil {
			t.Fatalf("volume sale %s failed: %v", ref, err)
		}
	}

	sell("TX-4001", 10)
	product, err := svc.GetProduct(ctx, "prd-echinacea")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Containers.Full != 4 {
		t.Fatalf("expected 4 sealed containers, got %d", product.Containers.Full)
	}
	if len(product.Containers.Partial) != 1 || product.Containers.Partial[0].Remaining != 40 {
		t.Fatalf("unexpected open container state: %+v", product.Containers.Partial)
	}

	sell("TX-4002", 25)
	sell("TX-4003", 10)

	product, err = svc.GetProduct(ctx, "prd-echinacea")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Containers.Full != 4 {
		t.Fatalf("sealed pool must not be touched while a partial has volume, got %d", product.Containers.Full)
	}
	open := product.Containers.Partial[0]
	if open.Remaining != 5 {
		t.Fatalf("expected remaining 5, got %v", open.Remaining)
	}
	if len(open.SaleHistory) != 3 {
		t.Fatalf("expected 3 sale history entries, got %d", len(open.SaleHistory))
	}
}

func TestVolumeSaleReversalRestoresContainerExactly(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	_, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-5001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-propolis", Quantity: 12, SaleType: domain.SaleTypeVolume},
		},
	})
	if err != nil {
		t.Fatalf("volume sale failed: %v", err)
	}

	product, _ := svc.GetProduct(ctx, "prd-propolis")
	if product.Containers.Full != 2 || product.Containers.Partial[0].Remaining != 18 {
		t.Fatalf("unexpected post-sale container state: full=%d partial=%+v", product.Containers.Full, product.Containers.Partial)
	}

	if _, err := svc.ReverseTransactionInventory(ctx, "TX-5001"); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}

	product, _ = svc.GetProduct(ctx, "prd-propolis")
	if got := product.CurrentStock; got != 90 {
		t.Fatalf("expected stock restored to 90, got %v", got)
	}
	if product.Containers.Partial[0].Remaining != 30 {
		t.Fatalf("expected container volume restored to 30, got %v", product.Containers.Partial[0].Remaining)
	}
	if len(product.Containers.Partial[0].SaleHistory) != 2 {
		t.Fatalf("expected draw and restore history entries, got %d", len(product.Containers.Partial[0].SaleHistory))
	}
}

func TestOversellSucceedsAndReversesExactly(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:               "HERB-TEST-01",
		Name:              "Test Herb",
		Category:          "dried-herb",
		UnitOfMeasurement: "g",
		PriceCents:        500,
		InitialStock:      5,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	result, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-6001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: created.ID, Quantity: 20, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("oversell must not fail: %v", err)
	}
	if !result.Success || len(result.Errors) != 0 {
		t.Fatalf("expected clean success on oversell, got %+v", result)
	}
	if got := mustStock(t, svc, created.ID); got != -15 {
		t.Fatalf("expected stock -15, got %v", got)
	}

	if _, err := svc.ReverseTransactionInventory(ctx, "TX-6001"); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if got := mustStock(t, svc, created.ID); got != 5 {
		t.Fatalf("expected stock restored to 5, got %v", got)
	}
}

func TestDoubleReversalIsRejected(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	_, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-7001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-vitc", Quantity: 10, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if _, err := svc.ReverseTransactionInventory(ctx, "TX-7001"); err != nil {
		t.Fatalf("first reverse failed: %v", err)
	}
	stockAfterFirst := mustStock(t, svc, "prd-vitc")

	_, err = svc.ReverseTransactionInventory(ctx, "TX-7001")
	if !errors.Is(err, store.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
	if got := mustStock(t, svc, "prd-vitc"); got != stockAfterFirst {
		t.Fatalf("second reversal changed stock: %v -> %v", stockAfterFirst, got)
	}
}

func TestReverseUnknownReferenceFails(t *testing.T) {
	svc := newTestService()

	_, err := svc.ReverseTransactionInventory(pharmacistContext(), "TX-NEVER-HAPPENED")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMissingReferenceAbortsWholeTransaction(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()
	before := mustStock(t, svc, "prd-vitc")

	result, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-8001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-vitc", Quantity: 5, SaleType: domain.SaleTypeQuantity},
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-missing", Quantity: 1, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err == nil {
		t.Fatalf("expected missing reference to fail processing")
	}
	var refErr *domain.ReferenceNotFoundError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceNotFoundError, got %v", err)
	}
	if refErr.ItemIndex != 1 {
		t.Fatalf("expected failure at item index 1, got %d", refErr.ItemIndex)
	}
	if result.Success || len(result.Errors) == 0 {
		t.Fatalf("expected failed result with errors, got %+v", result)
	}
	if got := mustStock(t, svc, "prd-vitc"); got != before {
		t.Fatalf("partial application detected: stock %v -> %v", before, got)
	}

	movements, err := svc.ListMovementsByReference(ctx, "TX-8001")
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no movements written, got %d", len(movements))
	}
}

func TestInertItemsProduceNoMovements(t *testing.T) {
	svc := newTestService()

	result, err := svc.ProcessTransactionInventory(pharmacistContext(), domain.Transaction{
		TransactionNumber: "TX-9001",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeService, Quantity: 1},
			{ItemType: domain.ItemTypeConsultation, Quantity: 1},
			{ItemType: domain.ItemTypeMiscellaneous, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Success || len(result.Movements) != 0 {
		t.Fatalf("inert items must produce no movements, got %+v", result)
	}
}

func TestMixedTransactionCountsMovementsCorrectly(t *testing.T) {
	svc := newTestService()

	result, err := svc.ProcessTransactionInventory(pharmacistContext(), domain.Transaction{
		TransactionNumber: "TX-9500",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-zinc", Quantity: 2, SaleType: domain.SaleTypeQuantity},
			{ItemType: domain.ItemTypeService, Quantity: 1},
			{ItemType: domain.ItemTypeFixedBlend, BlendTemplateID: "blend-sleep", Quantity: 1, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	// 1 product movement + 2 blend ingredient movements, service excluded.
	if len(result.Movements) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(result.Movements))
	}
}

func TestAdjustStockWritesAdjustmentMovement(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()
	before := mustStock(t, svc, "prd-chamomile")

	movement, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		ProductID: "prd-chamomile",
		Delta:     -35,
		Reason:    "spoilage after water damage",
	})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if movement.MovementType != domain.MovementAdjustment || movement.Quantity != -35 {
		t.Fatalf("unexpected adjustment movement: %+v", movement)
	}
	if got := mustStock(t, svc, "prd-chamomile"); got != before-35 {
		t.Fatalf("expected stock %v, got %v", before-35, got)
	}

	_, err = svc.AdjustStock(pharmacistContext(), domain.StockAdjustmentRequest{
		ProductID: "prd-chamomile",
		Delta:     5,
		Reason:    "recount",
	})
	if err == nil {
		t.Fatalf("expected non-admin adjustment to be rejected")
	}
}

func TestReceiveContainersBumpsPoolAndStockTogether(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	movement, err := svc.ReceiveContainers(ctx, domain.ContainerReceiveRequest{
		ProductID: "prd-elderberry",
		Count:     2,
	})
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if movement.Quantity != 100 {
		t.Fatalf("expected stock delta 100 for 2x50ml containers, got %v", movement.Quantity)
	}

	product, err := svc.GetProduct(ctx, "prd-elderberry")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Containers.Full != 5 {
		t.Fatalf("expected 5 sealed containers, got %d", product.Containers.Full)
	}
	if product.CurrentStock != 250 {
		t.Fatalf("expected stock 250, got %v", product.CurrentStock)
	}

	_, err = svc.ReceiveContainers(ctx, domain.ContainerReceiveRequest{ProductID: "prd-chamomile", Count: 1})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected rejection for non container-tracked product, got %v", err)
	}
}

func TestStockOverviewReflectsLedger(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	_, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-OV-1",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-echinacea", Quantity: 10, SaleType: domain.SaleTypeVolume},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	overview, err := svc.StockOverview(ctx)
	if err != nil {
		t.Fatalf("overview failed: %v", err)
	}
	if overview.BranchID != "main-branch" {
		t.Fatalf("unexpected branch id %s", overview.BranchID)
	}

	found := false
	for _, entry := range overview.Products {
		if entry.ProductID != "prd-echinacea" {
			continue
		}
		found = true
		if entry.CurrentStock != 240 {
			t.Fatalf("expected stock 240, got %v", entry.CurrentStock)
		}
		if entry.FullContainers != 4 || entry.OpenContainers != 1 || entry.OpenRemaining != 40 {
			t.Fatalf("unexpected container summary: %+v", entry)
		}
	}
	if !found {
		t.Fatalf("echinacea missing from overview")
	}
}

func TestAuditLogWrittenForProcessing(t *testing.T) {
	svc := newTestService()

	_, err := svc.ProcessTransactionInventory(pharmacistContext(), domain.Transaction{
		TransactionNumber: "TX-AUD-1",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeProduct, ProductID: "prd-zinc", Quantity: 1, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminContext(), "main-branch", time.Time{}, time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) == 0 {
		t.Fatalf("expected at least one audit entry")
	}
	if logs[0].Action != "inventory_process" {
		t.Fatalf("expected most recent action inventory_process, got %s", logs[0].Action)
	}
	if logs[0].ActorUsername != "pharmacist" {
		t.Fatalf("expected actor pharmacist, got %s", logs[0].ActorUsername)
	}
}

func TestCreateBlendTemplateValidatesIngredients(t *testing.T) {
	svc := newTestService()
	ctx := adminContext()

	_, err := svc.CreateBlendTemplate(ctx, domain.BlendTemplateCreateRequest{
		Name: "Broken Blend",
		Ingredients: []domain.BlendIngredient{
			{ProductID: "prd-missing", QuantityPerUnit: 5},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ingredient, got %v", err)
	}

	created, err := svc.CreateBlendTemplate(ctx, domain.BlendTemplateCreateRequest{
		Name: "Calm Blend",
		Ingredients: []domain.BlendIngredient{
			{ProductID: "prd-chamomile", QuantityPerUnit: 25, UnitOfMeasurementID: "g"},
		},
	})
	if err != nil {
		t.Fatalf("create blend failed: %v", err)
	}
	if created.ID == "" || created.UsageCount != 0 {
		t.Fatalf("unexpected created blend: %+v", created)
	}
}

func TestReversedCountFollowsLedgerNotTransaction(t *testing.T) {
	svc := newTestService()
	ctx := pharmacistContext()

	// A blend sale writes one movement per ingredient; the reversal count
	// reports ledger rows, not transaction items.
	_, err := svc.ProcessTransactionInventory(ctx, domain.Transaction{
		TransactionNumber: "TX-LEDGER-1",
		Items: []domain.TransactionItem{
			{ItemType: domain.ItemTypeFixedBlend, BlendTemplateID: "blend-immune", Quantity: 2, SaleType: domain.SaleTypeQuantity},
		},
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	reversed, err := svc.ReverseTransactionInventory(ctx, "TX-LEDGER-1")
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if reversed.ReversedCount != 2 {
		t.Fatalf("expected 2 reversed movements for 2 ingredients, got %d", reversed.ReversedCount)
	}
}
