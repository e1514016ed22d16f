package store

import (
	"context"
	"errors"
	"time"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrAlreadyReversed = errors.New("transaction already reversed")
	// ErrPartialApplication marks a commit failure after some entries of a
	// batch were applied; implementations must roll the batch back before
	// returning it.
	ErrPartialApplication = errors.New("partial batch application")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateBlendTemplate(ctx context.Context, tpl domain.BlendTemplate) (*domain.BlendTemplate, error)
	GetBlendTemplate(ctx context.Context, id string) (*domain.BlendTemplate, error)
	ListBlendTemplates(ctx context.Context) ([]domain.BlendTemplate, error)

	CreateBundle(ctx context.Context, bundle domain.Bundle) (*domain.Bundle, error)
	GetBundle(ctx context.Context, id string) (*domain.Bundle, error)
	ListBundles(ctx context.Context) ([]domain.Bundle, error)

	// ApplyMovementBatch commits every stock delta, container mutation,
	// movement record, and blend usage bump of the batch atomically, or none
	// of them. Reversal batches fail with ErrAlreadyReversed when movements
	// already exist under the batch reference.
	ApplyMovementBatch(ctx context.Context, batch domain.MovementBatch) ([]domain.InventoryMovement, error)
	ListMovementsByReference(ctx context.Context, reference string) ([]domain.InventoryMovement, error)
	ListMovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
