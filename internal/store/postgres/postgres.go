package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, unit_of_measurement, price_cents,
			current_stock, container_capacity, containers, active, created_at
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.UnitOfMeasurement == "" {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	containers, err := json.Marshal(product.Containers)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, sku, name, category, unit_of_measurement, price_cents,
			current_stock, container_capacity, containers, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`, product.ID, product.SKU, product.Name, product.Category, product.UnitOfMeasurement,
		product.PriceCents, product.CurrentStock, product.ContainerCapacity, containers,
		product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category, unit_of_measurement, price_cents,
			current_stock, container_capacity, containers, active, created_at
		FROM products
		WHERE id = $1
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, unit_of_measurement, price_cents,
			current_stock, container_capacity, containers, active, created_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = *product
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	// Stock and containers are ledger-owned and never updated here.
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, category = $4, price_cents = $5, active = $6, updated_at = now()
		WHERE id = $1
		RETURNING id, sku, name, category, unit_of_measurement, price_cents,
			current_stock, container_capacity, containers, active, created_at
	`, product.ID, product.SKU, product.Name, product.Category, product.PriceCents, product.Active)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) CreateBlendTemplate(ctx context.Context, tpl domain.BlendTemplate) (*domain.BlendTemplate, error) {
	if tpl.Name == "" || len(tpl.Ingredients) == 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, ing := range tpl.Ingredients {
		if ing.ProductID == "" || ing.QuantityPerUnit <= 0 {
			return nil, store.ErrInvalidRequest
		}
	}
	if tpl.ID == "" {
		tpl.ID = xid.New("blend")
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	ingredients, err := json.Marshal(tpl.Ingredients)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blend_templates (id, name, ingredients, usage_count, last_used, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, tpl.ID, tpl.Name, ingredients, tpl.UsageCount, nullTime(tpl.LastUsed), tpl.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := tpl
	return &created, nil
}

func (s *Store) GetBlendTemplate(ctx context.Context, id string) (*domain.BlendTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, ingredients, usage_count, last_used, created_at
		FROM blend_templates
		WHERE id = $1
	`, id)
	tpl, err := scanBlendTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tpl, nil
}

func (s *Store) ListBlendTemplates(ctx context.Context) ([]domain.BlendTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ingredients, usage_count, last_used, created_at
		FROM blend_templates
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make([]domain.BlendTemplate, 0, 32)
	for rows.Next() {
		tpl, err := scanBlendTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

func (s *Store) CreateBundle(ctx context.Context, bundle domain.Bundle) (*domain.Bundle, error) {
	if bundle.Name == "" || len(bundle.BundleProducts) == 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, member := range bundle.BundleProducts {
		if member.QuantityPerUnit <= 0 {
			return nil, store.ErrInvalidRequest
		}
		if member.ProductType != domain.BundleMemberProduct && member.ProductType != domain.BundleMemberBlend {
			return nil, store.ErrInvalidRequest
		}
	}
	if bundle.ID == "" {
		bundle.ID = xid.New("bndl")
	}
	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = time.Now().UTC()
	}

	members, err := json.Marshal(bundle.BundleProducts)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bundles (id, name, bundle_products, created_at)
		VALUES ($1,$2,$3,$4)
	`, bundle.ID, bundle.Name, members, bundle.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := bundle
	return &created, nil
}

func (s *Store) GetBundle(ctx context.Context, id string) (*domain.Bundle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, bundle_products, created_at
		FROM bundles
		WHERE id = $1
	`, id)
	bundle, err := scanBundle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return bundle, nil
}

func (s *Store) ListBundles(ctx context.Context) ([]domain.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, bundle_products, created_at
		FROM bundles
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bundles := make([]domain.Bundle, 0, 16)
	for rows.Next() {
		bundle, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, *bundle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bundles, nil
}

// ApplyMovementBatch runs the whole batch in one serializable transaction with
// the touched product rows locked, so concurrent sales of the same product
// serialize and a failure anywhere rolls everything back.
func (s *Store) ApplyMovementBatch(ctx context.Context, batch domain.MovementBatch) ([]domain.InventoryMovement, error) {
	if batch.Reference == "" || len(batch.Entries) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if batch.AppliedAt.IsZero() {
		batch.AppliedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if batch.Reversal {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM inventory_movements WHERE reference = $1)
		`, batch.Reference).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, store.ErrAlreadyReversed
		}
	}

	// Lock each distinct product once; entries for the same product replay
	// against the same in-transaction copy.
	locked := make(map[string]*domain.Product, len(batch.Entries))
	for _, entry := range batch.Entries {
		if entry.ProductID == "" || entry.MovementType == "" {
			return nil, store.ErrInvalidRequest
		}
		if _, ok := locked[entry.ProductID]; ok {
			continue
		}
		product, err := lockProduct(ctx, tx, entry.ProductID)
		if err != nil {
			return nil, err
		}
		locked[entry.ProductID] = product
	}

	applied := make([]domain.InventoryMovement, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		product := locked[entry.ProductID]
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

		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (
				id, product_id, movement_type, quantity, sale_type, container_id,
				reference, reason, notes, created_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, movement.ID, movement.ProductID, movement.MovementType, movement.Quantity,
			movement.SaleType, nullIfEmpty(movement.ContainerID), movement.Reference,
			nullIfEmpty(movement.Reason), nullIfEmpty(movement.Notes), movement.CreatedBy, movement.CreatedAt)
		if err != nil {
			return nil, err
		}

		applied = append(applied, movement)
	}

	for _, product := range locked {
		if err := saveLedger(ctx, tx, product); err != nil {
			return nil, err
		}
	}

	for _, usage := range batch.BlendUsage {
		res, err := tx.ExecContext(ctx, `
			UPDATE blend_templates
			SET usage_count = usage_count + $2, last_used = $3
			WHERE id = $1
		`, usage.BlendTemplateID, int64(usage.Quantity), batch.AppliedAt)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return applied, nil
}

func (s *Store) ListMovementsByReference(ctx context.Context, reference string) ([]domain.InventoryMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, movement_type, quantity, sale_type,
			COALESCE(container_id,''), reference, COALESCE(reason,''), COALESCE(notes,''),
			created_by, created_at
		FROM inventory_movements
		WHERE reference = $1
		ORDER BY created_at ASC, id ASC
	`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMovements(rows, 8)
}

func (s *Store) ListMovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, movement_type, quantity, sale_type,
			COALESCE(container_id,''), reference, COALESCE(reason,''), COALESCE(notes,''),
			created_by, created_at
		FROM inventory_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMovements(rows, limit)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "pharmacist"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var product domain.Product
	var containers []byte
	if err := row.Scan(&product.ID, &product.SKU, &product.Name, &product.Category,
		&product.UnitOfMeasurement, &product.PriceCents, &product.CurrentStock,
		&product.ContainerCapacity, &containers, &product.Active, &product.CreatedAt); err != nil {
		return nil, err
	}
	if len(containers) > 0 {
		if err := json.Unmarshal(containers, &product.Containers); err != nil {
			return nil, err
		}
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

func scanBlendTemplate(row rowScanner) (*domain.BlendTemplate, error) {
	var tpl domain.BlendTemplate
	var ingredients []byte
	var lastUsed sql.NullTime
	if err := row.Scan(&tpl.ID, &tpl.Name, &ingredients, &tpl.UsageCount, &lastUsed, &tpl.CreatedAt); err != nil {
		return nil, err
	}
	if len(ingredients) > 0 {
		if err := json.Unmarshal(ingredients, &tpl.Ingredients); err != nil {
			return nil, err
		}
	}
	if lastUsed.Valid {
		at := lastUsed.Time.UTC()
		tpl.LastUsed = &at
	}
	tpl.CreatedAt = tpl.CreatedAt.UTC()
	return &tpl, nil
}

func scanBundle(row rowScanner) (*domain.Bundle, error) {
	var bundle domain.Bundle
	var members []byte
	if err := row.Scan(&bundle.ID, &bundle.Name, &members, &bundle.CreatedAt); err != nil {
		return nil, err
	}
	if len(members) > 0 {
		if err := json.Unmarshal(members, &bundle.BundleProducts); err != nil {
			return nil, err
		}
	}
	bundle.CreatedAt = bundle.CreatedAt.UTC()
	return &bundle, nil
}

func lockProduct(ctx context.Context, tx *sql.Tx, id string) (*domain.Product, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, sku, name, category, unit_of_measurement, price_cents,
			current_stock, container_capacity, containers, active, created_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func saveLedger(ctx context.Context, tx *sql.Tx, product *domain.Product) error {
	containers, err := json.Marshal(product.Containers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET current_stock = $2, containers = $3, updated_at = now()
		WHERE id = $1
	`, product.ID, product.CurrentStock, containers)
	return err
}

func collectMovements(rows *sql.Rows, hint int) ([]domain.InventoryMovement, error) {
	movements := make([]domain.InventoryMovement, 0, hint)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.MovementType, &m.Quantity, &m.SaleType,
			&m.ContainerID, &m.Reference, &m.Reason, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
