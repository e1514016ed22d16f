package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]*domain.Product
	blendTemplates  map[string]*domain.BlendTemplate
	bundles         map[string]*domain.Bundle
	movements       []domain.InventoryMovement
	movementsByRef  map[string][]int
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	pharmacistPwd := envOr("SEED_PHARMACIST_PASSWORD", "pharma123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PHARMACIST_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_PHARMACIST_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"pharmacist", pharmacistPwd, "pharmacist"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]*domain.Product),
		blendTemplates:  make(map[string]*domain.BlendTemplate),
		bundles:         make(map[string]*domain.Bundle),
		movements:       make([]domain.InventoryMovement, 0, 256),
		movementsByRef:  make(map[string][]int),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prd-echinacea", SKU: "TINC-ECHI-50", Name: "Echinacea Tincture", Category: "tincture", UnitOfMeasurement: "ml", PriceCents: 2800, CurrentStock: 250, ContainerCapacity: 50, Containers: domain.ContainerLedger{Full: 5}, Active: true, CreatedAt: now},
		{ID: "prd-elderberry", SKU: "TINC-ELDR-50", Name: "Elderberry Extract", Category: "tincture", UnitOfMeasurement: "ml", PriceCents: 3200, CurrentStock: 150, ContainerCapacity: 50, Containers: domain.ContainerLedger{Full: 3}, Active: true, CreatedAt: now},
		{ID: "prd-chamomile", SKU: "HERB-CHAM-01", Name: "Chamomile Flowers", Category: "dried-herb", UnitOfMeasurement: "g", PriceCents: 900, CurrentStock: 500, Active: true, CreatedAt: now},
		{ID: "prd-valerian", SKU: "HERB-VALE-01", Name: "Valerian Root", Category: "dried-herb", UnitOfMeasurement: "g", PriceCents: 1100, CurrentStock: 400, Active: true, CreatedAt: now},
		{ID: "prd-vitc", SKU: "SUPP-VITC-60", Name: "Vitamin C 60 Caps", Category: "supplement", UnitOfMeasurement: "unit", PriceCents: 1900, CurrentStock: 100, Active: true, CreatedAt: now},
		{ID: "prd-zinc", SKU: "SUPP-ZINC-30", Name: "Zinc 30 Caps", Category: "supplement", UnitOfMeasurement: "unit", PriceCents: 1500, CurrentStock: 80, Active: true, CreatedAt: now},
		{ID: "prd-propolis", SKU: "TINC-PROP-30", Name: "Propolis Drops", Category: "tincture", UnitOfMeasurement: "ml", PriceCents: 2400, CurrentStock: 90, ContainerCapacity: 30, Containers: domain.ContainerLedger{Full: 3}, Active: true, CreatedAt: now},
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}

	blends := []domain.BlendTemplate{
		{
			ID:   "blend-immune",
			Name: "Immune Support Blend",
			Ingredients: []domain.BlendIngredient{
				{ProductID: "prd-echinacea", QuantityPerUnit: 15, UnitOfMeasurementID: "ml"},
				{ProductID: "prd-elderberry", QuantityPerUnit: 10, UnitOfMeasurementID: "ml"},
			},
			CreatedAt: now,
		},
		{
			ID:   "blend-sleep",
			Name: "Sleep Support Blend",
			Ingredients: []domain.BlendIngredient{
				{ProductID: "prd-chamomile", QuantityPerUnit: 20, UnitOfMeasurementID: "g"},
				{ProductID: "prd-valerian", QuantityPerUnit: 10, UnitOfMeasurementID: "g"},
			},
			CreatedAt: now,
		},
	}
	for i := range blends {
		b := blends[i]
		s.blendTemplates[b.ID] = &b
	}

	bundles := []domain.Bundle{
		{
			ID:   "bundle-winter",
			Name: "Winter Wellness Pack",
			BundleProducts: []domain.BundleItem{
				{ProductID: "prd-vitc", ProductType: domain.BundleMemberProduct, QuantityPerUnit: 1},
				{ProductID: "prd-zinc", ProductType: domain.BundleMemberProduct, QuantityPerUnit: 1},
				{BlendTemplateID: "blend-immune", ProductType: domain.BundleMemberBlend, QuantityPerUnit: 1},
			},
			CreatedAt: now,
		},
	}
	for i := range bundles {
		b := bundles[i]
		s.bundles[b.ID] = &b
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, cloneProduct(*p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.UnitOfMeasurement == "" {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, store.ErrInvalidRequest
		}
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	saved := product
	s.products[product.ID] = &saved
	created := cloneProduct(saved)
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneProduct(*product)
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = cloneProduct(*p)
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.SKU == "" {
		return nil, store.ErrInvalidRequest
	}

	// Stock and container state belong to the ledger; an administrative
	// product update never touches them.
	product.CurrentStock = existing.CurrentStock
	product.Containers = existing.Containers
	saved := product
	s.products[product.ID] = &saved
	updated := cloneProduct(saved)
	return &updated, nil
}

func (s *Store) CreateBlendTemplate(_ context.Context, tpl domain.BlendTemplate) (*domain.BlendTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.Name == "" || len(tpl.Ingredients) == 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, ing := range tpl.Ingredients {
		if ing.ProductID == "" || ing.QuantityPerUnit <= 0 {
			return nil, store.ErrInvalidRequest
		}
		if _, exists := s.products[ing.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	if tpl.ID == "" {
		tpl.ID = xid.New("blend")
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	saved := cloneBlendTemplate(tpl)
	s.blendTemplates[tpl.ID] = &saved
	created := cloneBlendTemplate(saved)
	return &created, nil
}

func (s *Store) GetBlendTemplate(_ context.Context, id string) (*domain.BlendTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, exists := s.blendTemplates[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneBlendTemplate(*tpl)
	return &copied, nil
}

func (s *Store) ListBlendTemplates(_ context.Context) ([]domain.BlendTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]domain.BlendTemplate, 0, len(s.blendTemplates))
	for _, tpl := range s.blendTemplates {
		templates = append(templates, cloneBlendTemplate(*tpl))
	}
	slices.SortFunc(templates, func(a, b domain.BlendTemplate) int {
		return cmpString(a.Name, b.Name)
	})
	return templates, nil
}

func (s *Store) CreateBundle(_ context.Context, bundle domain.Bundle) (*domain.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bundle.Name == "" || len(bundle.BundleProducts) == 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, member := range bundle.BundleProducts {
		if member.QuantityPerUnit <= 0 {
			return nil, store.ErrInvalidRequest
		}
		switch member.ProductType {
		case domain.BundleMemberProduct:
			if _, exists := s.products[member.ProductID]; !exists {
				return nil, store.ErrNotFound
			}
		case domain.BundleMemberBlend:
			if _, exists := s.blendTemplates[member.BlendTemplateID]; !exists {
				return nil, store.ErrNotFound
			}
		default:
			return nil, store.ErrInvalidRequest
		}
	}
	if bundle.ID == "" {
		bundle.ID = xid.New("bndl")
	}
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = time.Now().UTC()
	}

	saved := cloneBundle(bundle)
	s.bundles[bundle.ID] = &saved
	created := cloneBundle(saved)
	return &created, nil
}

func (s *Store) GetBundle(_ context.Context, id string) (*domain.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, exists := s.bundles[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneBundle(*bundle)
	return &copied, nil
}

func (s *Store) ListBundles(_ context.Context) ([]domain.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundles := make([]domain.Bundle, 0, len(s.bundles))
	for _, bundle := range s.bundles {
		bundles = append(bundles, cloneBundle(*bundle))
	}
	slices.SortFunc(bundles, func(a, b domain.Bundle) int {
		return cmpString(a.Name, b.Name)
	})
	return bundles, nil
}

// ApplyMovementBatch validates the whole batch first and only then mutates,
// all under one lock, so a failure can never leave stock half-applied.
func (s *Store) ApplyMovementBatch(_ context.Context, batch domain.MovementBatch) ([]domain.InventoryMovement, error) {
	if batch.Reference == "" || len(batch.Entries) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if batch.AppliedAt.IsZero() {
		batch.AppliedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.Reversal && len(s.movementsByRef[batch.Reference]) > 0 {
		return nil, store.ErrAlreadyReversed
	}
	for _, entry := range batch.Entries {
		if entry.ProductID == "" || entry.MovementType == "" {
			return nil, store.ErrInvalidRequest
		}
		if _, exists := s.products[entry.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	for _, usage := range batch.BlendUsage {
		if _, exists := s.blendTemplates[usage.BlendTemplateID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	applied := make([]domain.InventoryMovement, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		product := s.products[entry.ProductID]
		product.CurrentStock += entry.Delta
		if entry.ReceiveContainers > 0 && product.ContainerTracked() {
			product.Containers.Full += entry.ReceiveContainers
		}

		movement := domain.InventoryMovement{
			ID:           xid.New("mov"),
			ProductID:    entry.ProductID,
			MovementType: entry.MovementType,
			Quantity:     entry.Delta,
			SaleType:     entry.SaleType,
			Reference:    batch.Reference,
			Reason:       entry.Reason,
			Notes:        entry.Notes,
			CreatedBy:    batch.Actor,
			CreatedAt:    batch.AppliedAt,
		}

		if entry.SaleType == domain.SaleTypeVolume && product.ContainerTracked() {
			if entry.Delta < 0 {
				movement.ContainerID = product.Containers.DrawVolume(product.ContainerCapacity, -entry.Delta, batch.Reference, batch.Actor, batch.AppliedAt)
			} else {
				movement.ContainerID = product.Containers.RestoreVolume(product.ContainerCapacity, entry.Delta, entry.RestoreContainerID, batch.Reference, batch.Actor, batch.AppliedAt)
			}
		}

		idx := len(s.movements)
		s.movements = append(s.movements, movement)
		s.movementsByRef[batch.Reference] = append(s.movementsByRef[batch.Reference], idx)
		applied = append(applied, movement)
	}

	for _, usage := range batch.BlendUsage {
		tpl := s.blendTemplates[usage.BlendTemplateID]
		tpl.UsageCount += int64(usage.Quantity)
		at := batch.AppliedAt
		tpl.LastUsed = &at
	}

	return applied, nil
}

func (s *Store) ListMovementsByReference(_ context.Context, reference string) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := s.movementsByRef[reference]
	result := make([]domain.InventoryMovement, 0, len(indexes))
	for _, idx := range indexes {
		result = append(result, s.movements[idx])
	}
	return result, nil
}

func (s *Store) ListMovementsByProduct(_ context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.InventoryMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		if s.movements[i].ProductID == productID {
			result = append(result, s.movements[i])
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "pharmacist"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.Containers = src.Containers.Clone()
	return dup
}

func cloneBlendTemplate(src domain.BlendTemplate) domain.BlendTemplate {
	dup := src
	dup.Ingredients = make([]domain.BlendIngredient, len(src.Ingredients))
	copy(dup.Ingredients, src.Ingredients)
	if src.LastUsed != nil {
		lastUsed := *src.LastUsed
		dup.LastUsed = &lastUsed
	}
	return dup
}

func cloneBundle(src domain.Bundle) domain.Bundle {
	dup := src
	dup.BundleProducts = make([]domain.BundleItem, len(src.BundleProducts))
	copy(dup.BundleProducts, src.BundleProducts)
	return dup
}
