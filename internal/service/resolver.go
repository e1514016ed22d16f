package service

import (
	"context"
	"errors"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/domain"
	"github.com/sebastianliew/leaftolifecrm-sub004/internal/store"
)

// resolution is the flattened stock effect of a whole transaction: one
// elementary application per affected product plus the blend usage counters
// to bump. Everything is resolved before anything is applied.
type resolution struct {
	entries    []domain.StockApplication
	blendUsage []domain.BlendUsage
}

// resolveItems expands every transaction item into elementary stock deltas.
// A missing product, blend template, or bundle fails the whole call with a
// ReferenceNotFoundError naming the item's position; nothing is applied.
func (s *Service) resolveItems(ctx context.Context, items []domain.TransactionItem) (*resolution, error) {
	res := &resolution{
		entries:    make([]domain.StockApplication, 0, len(items)),
		blendUsage: make([]domain.BlendUsage, 0, 2),
	}

	for idx, item := range items {
		switch item.ItemType {
		case domain.ItemTypeService, domain.ItemTypeConsultation, domain.ItemTypeMiscellaneous:
			// Inert to the ledger.
			continue
		}

		if item.Quantity <= 0 {
			return nil, store.ErrInvalidRequest
		}

		switch item.ItemType {
		case domain.ItemTypeProduct, domain.ItemTypeCustomBlend:
			if err := s.resolveProductItem(ctx, item, idx, res); err != nil {
				return nil, err
			}
		case domain.ItemTypeFixedBlend:
			if err := s.resolveBlendItem(ctx, item, idx, res); err != nil {
				return nil, err
			}
		case domain.ItemTypeBundle:
			if err := s.resolveBundleItem(ctx, item, idx, res); err != nil {
				return nil, err
			}
		default:
			return nil, store.ErrInvalidRequest
		}
	}

	return res, nil
}

func (s *Service) resolveProductItem(ctx context.Context, item domain.TransactionItem, idx int, res *resolution) error {
	if _, err := s.lookupProduct(ctx, item.ProductID, idx); err != nil {
		return err
	}

	saleType := item.SaleType
	if saleType == "" {
		saleType = domain.SaleTypeQuantity
	}

	res.entries = append(res.entries, domain.StockApplication{
		ProductID:    item.ProductID,
		Delta:        -item.Quantity,
		MovementType: domain.MovementSale,
		SaleType:     saleType,
	})
	return nil
}

func (s *Service) resolveBlendItem(ctx context.Context, item domain.TransactionItem, idx int, res *resolution) error {
	tpl, err := s.repo.GetBlendTemplate(ctx, item.BlendTemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.ReferenceNotFoundError{Kind: "blend template", ID: item.BlendTemplateID, ItemIndex: idx}
		}
		return err
	}

	for _, ing := range tpl.Ingredients {
		if _, err := s.lookupProduct(ctx, ing.ProductID, idx); err != nil {
			return err
		}
		res.entries = append(res.entries, domain.StockApplication{
			ProductID:    ing.ProductID,
			Delta:        -(ing.QuantityPerUnit * item.Quantity),
			MovementType: domain.MovementSale,
			SaleType:     item.SaleType,
			Notes:        "blend " + tpl.Name,
		})
	}

	res.blendUsage = append(res.blendUsage, domain.BlendUsage{
		BlendTemplateID: tpl.ID,
		Quantity:        item.Quantity,
	})
	return nil
}

func (s *Service) resolveBundleItem(ctx context.Context, item domain.TransactionItem, idx int, res *resolution) error {
	bundle, err := s.repo.GetBundle(ctx, item.BundleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.ReferenceNotFoundError{Kind: "bundle", ID: item.BundleID, ItemIndex: idx}
		}
		return err
	}

	for _, member := range bundle.BundleProducts {
		switch member.ProductType {
		case domain.BundleMemberProduct:
			if _, err := s.lookupProduct(ctx, member.ProductID, idx); err != nil {
				return err
			}
			res.entries = append(res.entries, domain.StockApplication{
				ProductID:    member.ProductID,
				Delta:        -(member.QuantityPerUnit * item.Quantity),
				MovementType: domain.MovementBundleSale,
				SaleType:     domain.SaleTypeQuantity,
				Notes:        "bundle " + bundle.Name,
			})
		case domain.BundleMemberBlend:
			tpl, err := s.repo.GetBlendTemplate(ctx, member.BlendTemplateID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &domain.ReferenceNotFoundError{Kind: "blend template", ID: member.BlendTemplateID, ItemIndex: idx}
				}
				return err
			}
			scale := member.QuantityPerUnit * item.Quantity
			for _, ing := range tpl.Ingredients {
				if _, err := s.lookupProduct(ctx, ing.ProductID, idx); err != nil {
					return err
				}
				res.entries = append(res.entries, domain.StockApplication{
					ProductID:    ing.ProductID,
					Delta:        -(ing.QuantityPerUnit * scale),
					MovementType: domain.MovementBundleSale,
					SaleType:     domain.SaleTypeQuantity,
					Notes:        "bundle " + bundle.Name + ", blend " + tpl.Name,
				})
			}
		default:
			return store.ErrInvalidRequest
		}
	}
	return nil
}

func (s *Service) lookupProduct(ctx context.Context, id string, idx int) (*domain.Product, error) {
	if id == "" {
		return nil, &domain.ReferenceNotFoundError{Kind: "product", ID: id, ItemIndex: idx}
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &domain.ReferenceNotFoundError{Kind: "product", ID: id, ItemIndex: idx}
		}
		return nil, err
	}
	return product, nil
}
