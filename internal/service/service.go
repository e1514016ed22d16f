package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/cache"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	overviews       cache.OverviewCache
	overviewTTL     time.Duration
	defaultBranchID string
}

func New(repo store.Repository, overviews cache.OverviewCache, defaultBranchID string, overviewTTL time.Duration) *Service {
	if overviews == nil {
		overviews = cache.NoopOverviewCache{}
	}
	if overviewTTL <= 0 {
		overviewTTL = 30 * time.Second
	}
	if defaultBranchID == "" {
		defaultBranchID = "main-branch"
	}

	return &Service{
		repo:            repo,
		overviews:       overviews,
		overviewTTL:     overviewTTL,
		defaultBranchID: defaultBranchID,
	}
}

// ProcessTransactionInventory resolves every item of the transaction into
// elementary stock deltas and applies them in one atomic batch. Overselling
// is not an error; the only failures are missing references and storage
// faults, neither of which leaves any stock touched.
func (s *Service) ProcessTransactionInventory(ctx context.Context, tx domain.Transaction) (domain.ProcessResult, error) {
	tx.TransactionNumber = strings.TrimSpace(tx.TransactionNumber)
	if tx.TransactionNumber == "" || len(tx.Items) == 0 {
		return domain.ProcessResult{Errors: []string{"transaction number and items required"}}, store.ErrInvalidRequest
	}

	res, err := s.resolveItems(ctx, tx.Items)
	if err != nil {
		var refErr *domain.ReferenceNotFoundError
		if errors.As(err, &refErr) || errors.Is(err, store.ErrInvalidRequest) {
			return domain.ProcessResult{Errors: []string{err.Error()}}, err
		}
		log.Printf("[service] WARN: resolution failed ref=%s: %v", tx.TransactionNumber, err)
		return domain.ProcessResult{}, err
	}

	if len(res.entries) == 0 {
		// Nothing but inert items. Valid, just no ledger effect.
		return domain.ProcessResult{Success: true, Movements: []domain.InventoryMovement{}, Errors: []string{}}, nil
	}

	actor := s.actorID(ctx)
	movements, err := s.repo.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference:  tx.TransactionNumber,
		Actor:      actor,
		AppliedAt:  time.Now().UTC(),
		Entries:    res.entries,
		BlendUsage: res.blendUsage,
	})
	if err != nil {
		log.Printf("[service] WARN: movement batch failed ref=%s: %v", tx.TransactionNumber, err)
		return domain.ProcessResult{}, err
	}

	s.invalidateOverview(ctx)
	s.logAudit(ctx, "", "inventory_process", "transaction", tx.TransactionNumber, fmt.Sprintf("movements=%d", len(movements)))

	return domain.ProcessResult{Success: true, Movements: movements, Errors: []string{}}, nil
}

// ReverseTransactionInventory replays the ledger under the given reference
// and applies the exact inverse of every recorded movement. Quantities come
// only from the movement records, never from the transaction itself, so a
// transaction edited or deleted after sale still reverses exactly what was
// applied.
func (s *Service) ReverseTransactionInventory(ctx context.Context, transactionNumber string) (domain.ReverseResult, error) {
	transactionNumber = strings.TrimSpace(transactionNumber)
	if transactionNumber == "" {
		return domain.ReverseResult{}, store.ErrInvalidRequest
	}

	originals, err := s.repo.ListMovementsByReference(ctx, transactionNumber)
	if err != nil {
		return domain.ReverseResult{}, err
	}
	if len(originals) == 0 {
		return domain.ReverseResult{}, store.ErrNotFound
	}

	cancelRef := domain.CancelPrefix + transactionNumber
	entries := make([]domain.StockApplication, 0, len(originals))
	for _, movement := range originals {
		entries = append(entries, domain.StockApplication{
			ProductID:          movement.ProductID,
			Delta:              -movement.Quantity,
			MovementType:       domain.MovementReturn,
			SaleType:           movement.SaleType,
			RestoreContainerID: movement.ContainerID,
			Reason:             "reversal of " + transactionNumber,
		})
	}

	_, err = s.repo.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference: cancelRef,
		Reversal:  true,
		Actor:     s.actorID(ctx),
		AppliedAt: time.Now().UTC(),
		Entries:   entries,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyReversed) {
			return domain.ReverseResult{Reference: cancelRef}, err
		}
		log.Printf("[service] WARN: reversal batch failed ref=%s: %v", transactionNumber, err)
		return domain.ReverseResult{}, err
	}

	s.invalidateOverview(ctx)
	s.logAudit(ctx, "", "inventory_reverse", "transaction", transactionNumber, fmt.Sprintf("reversed=%d", len(originals)))

	return domain.ReverseResult{Success: true, ReversedCount: len(originals), Reference: cancelRef}, nil
}

// AdjustStock records a manual correction as a regular ledger movement under
// a generated ADJ- reference.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.InventoryMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryMovement{}, fmt.Errorf("admin role required")
	}
	if req.ProductID == "" || req.Delta == 0 || strings.TrimSpace(req.Reason) == "" {
		return domain.InventoryMovement{}, store.ErrInvalidRequest
	}

	reference := xid.New("ADJ")
	movements, err := s.repo.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference: reference,
		Actor:     actor.Username,
		AppliedAt: time.Now().UTC(),
		Entries: []domain.StockApplication{{
			ProductID:    req.ProductID,
			Delta:        req.Delta,
			MovementType: domain.MovementAdjustment,
			SaleType:     domain.SaleTypeQuantity,
			Reason:       strings.TrimSpace(req.Reason),
		}},
	})
	if err != nil {
		return domain.InventoryMovement{}, err
	}

	s.invalidateOverview(ctx)
	s.logAudit(ctx, "", "stock_adjust", "product", req.ProductID, fmt.Sprintf("delta=%.3f,reason=%s", req.Delta, req.Reason))

	return movements[0], nil
}

// ReceiveContainers books sealed containers into a volume-sold product. The
// stock increase and the container pool bump commit in the same batch.
func (s *Service) ReceiveContainers(ctx context.Context, req domain.ContainerReceiveRequest) (domain.InventoryMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryMovement{}, fmt.Errorf("admin role required")
	}
	if req.ProductID == "" || req.Count < 1 {
		return domain.InventoryMovement{}, store.ErrInvalidRequest
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.InventoryMovement{}, err
	}
	if !product.ContainerTracked() {
		return domain.InventoryMovement{}, store.ErrInvalidRequest
	}

	reference := xid.New("ADJ")
	movements, err := s.repo.ApplyMovementBatch(ctx, domain.MovementBatch{
		Reference: reference,
		Actor:     actor.Username,
		AppliedAt: time.Now().UTC(),
		Entries: []domain.StockApplication{{
			ProductID:         req.ProductID,
			Delta:             float64(req.Count) * product.ContainerCapacity,
			MovementType:      domain.MovementAdjustment,
			SaleType:          domain.SaleTypeQuantity,
			ReceiveContainers: req.Count,
			Reason:            "container receipt",
			Notes:             strings.TrimSpace(req.Notes),
		}},
	})
	if err != nil {
		return domain.InventoryMovement{}, err
	}

	s.invalidateOverview(ctx)
	s.logAudit(ctx, "", "containers_receive", "product", req.ProductID, fmt.Sprintf("count=%d", req.Count))

	return movements[0], nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.UnitOfMeasurement = strings.TrimSpace(req.UnitOfMeasurement)

	if req.SKU == "" || req.Name == "" || req.UnitOfMeasurement == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.PriceCents < 1 || req.InitialStock < 0 || req.ContainerCapacity < 0 || req.FullContainers < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}
	if req.FullContainers > 0 && req.ContainerCapacity <= 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	// InitialStock is loose stock; sealed containers contribute their full
	// capacity on top.
	stock := req.InitialStock + float64(req.FullContainers)*req.ContainerCapacity

	product := domain.Product{
		SKU:               req.SKU,
		Name:              req.Name,
		Category:          req.Category,
		UnitOfMeasurement: req.UnitOfMeasurement,
		PriceCents:        req.PriceCents,
		CurrentStock:      stock,
		ContainerCapacity: req.ContainerCapacity,
		Containers:        domain.ContainerLedger{Full: req.FullContainers},
		Active:            true,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateOverview(ctx)
	s.logAudit(ctx, "", "product_create", "product", created.ID, fmt.Sprintf("sku=%s,stock=%.3f", created.SKU, created.CurrentStock))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if id == "" {
		return domain.Product{}, store.ErrInvalidRequest
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateOverview(ctx)
	s.logAudit(ctx, "", "product_update", "product", saved.ID, fmt.Sprintf("active=%t,price=%d", saved.Active, saved.PriceCents))

	return *saved, nil
}

func (s *Service) CreateBlendTemplate(ctx context.Context, req domain.BlendTemplateCreateRequest) (domain.BlendTemplate, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.BlendTemplate{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Ingredients) == 0 {
		return domain.BlendTemplate{}, store.ErrInvalidRequest
	}
	for _, ing := range req.Ingredients {
		if ing.ProductID == "" || ing.QuantityPerUnit <= 0 {
			return domain.BlendTemplate{}, store.ErrInvalidRequest
		}
		if _, err := s.repo.GetProductByID(ctx, ing.ProductID); err != nil {
			return domain.BlendTemplate{}, err
		}
	}

	created, err := s.repo.CreateBlendTemplate(ctx, domain.BlendTemplate{
		Name:        req.Name,
		Ingredients: req.Ingredients,
	})
	if err != nil {
		return domain.BlendTemplate{}, err
	}

	s.logAudit(ctx, "", "blend_create", "blend_template", created.ID, fmt.Sprintf("name=%s,ingredients=%d", created.Name, len(created.Ingredients)))

	return *created, nil
}

func (s *Service) ListBlendTemplates(ctx context.Context) ([]domain.BlendTemplate, error) {
	return s.repo.ListBlendTemplates(ctx)
}

func (s *Service) CreateBundle(ctx context.Context, req domain.BundleCreateRequest) (domain.Bundle, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Bundle{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.BundleProducts) == 0 {
		return domain.Bundle{}, store.ErrInvalidRequest
	}
	for _, member := range req.BundleProducts {
		if member.QuantityPerUnit <= 0 {
			return domain.Bundle{}, store.ErrInvalidRequest
		}
		switch member.ProductType {
		case domain.BundleMemberProduct:
			if _, err := s.repo.GetProductByID(ctx, member.ProductID); err != nil {
				return domain.Bundle{}, err
			}
		case domain.BundleMemberBlend:
			if _, err := s.repo.GetBlendTemplate(ctx, member.BlendTemplateID); err != nil {
				return domain.Bundle{}, err
			}
		default:
			return domain.Bundle{}, store.ErrInvalidRequest
		}
	}

	created, err := s.repo.CreateBundle(ctx, domain.Bundle{
		Name:           req.Name,
		BundleProducts: req.BundleProducts,
	})
	if err != nil {
		return domain.Bundle{}, err
	}

	s.logAudit(ctx, "", "bundle_create", "bundle", created.ID, fmt.Sprintf("name=%s,members=%d", created.Name, len(created.BundleProducts)))

	return *created, nil
}

func (s *Service) ListBundles(ctx context.Context) ([]domain.Bundle, error) {
	return s.repo.ListBundles(ctx)
}

func (s *Service) ListMovementsByReference(ctx context.Context, reference string) ([]domain.InventoryMovement, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, store.ErrInvalidRequest
	}
	return s.repo.ListMovementsByReference(ctx, reference)
}

func (s *Service) ListProductMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	if productID == "" {
		return nil, store.ErrInvalidRequest
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListMovementsByProduct(ctx, productID, limit)
}

// StockOverview renders a point-in-time snapshot of every active product's
// stock and container state, served from cache when a fresh snapshot exists.
func (s *Service) StockOverview(ctx context.Context) (domain.StockOverview, error) {
	key := "stock-overview:" + s.defaultBranchID
	if cached, ok, err := s.overviews.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: overview cache read failed: %v", err)
	} else if ok {
		return *cached, nil
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.StockOverview{}, err
	}

	overview := domain.StockOverview{
		BranchID:    s.defaultBranchID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Products:    make([]domain.ProductStockOverview, 0, len(products)),
	}
	for _, p := range products {
		entry := domain.ProductStockOverview{
			ProductID:      p.ID,
			SKU:            p.SKU,
			Name:           p.Name,
			CurrentStock:   p.CurrentStock,
			Unit:           p.UnitOfMeasurement,
			FullContainers: p.Containers.Full,
		}
		for _, c := range p.Containers.Partial {
			if c.Status == domain.ContainerStatusOversold {
				entry.Oversold = true
			}
			if c.Remaining > 0 {
				entry.OpenContainers++
				entry.OpenRemaining += c.Remaining
			}
		}
		if p.CurrentStock < 0 {
			entry.Oversold = true
		}
		overview.Products = append(overview.Products, entry)
	}

	if err := s.overviews.Set(ctx, key, &overview, s.overviewTTL); err != nil {
		log.Printf("[service] WARN: overview cache write failed: %v", err)
	}

	return overview, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}

func (s *Service) actorID(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

func (s *Service) invalidateOverview(ctx context.Context) {
	key := "stock-overview:" + s.defaultBranchID
	if err := s.overviews.Invalidate(ctx, key); err != nil {
		log.Printf("[service] WARN: overview cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
