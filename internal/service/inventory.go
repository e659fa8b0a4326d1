package service

import (
	"context"
	"fmt"

	"github.com/sawtell/cutshop/internal/domain"
)

// SupplyStore defines the inventory access interface consumed by
// InventoryService.
type SupplyStore interface {
	CreateSupply(ctx context.Context, n domain.NewSupply) (*domain.Supply, error)
	GetSupply(ctx context.Context, id int64) (*domain.Supply, error)
	ListSupplies(ctx context.Context) ([]domain.Supply, error)
	CreateLocation(ctx context.Context, name string) (*domain.Location, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
	ReceiveStock(ctx context.Context, supplyID, locationID int64, qty int) (*domain.SupplyStock, error)
	ConsumeStock(ctx context.Context, supplyID int64, qty int) ([]domain.SupplyStock, error)
	Allocations(ctx context.Context) (map[int64]int, error)
}

// InventoryService owns the supply catalog and multi-location stock: the
// receiving and consuming touchpoints of purchasing, plus allocation-aware
// reorder suggestions.
type InventoryService struct {
	store SupplyStore
}

// NewInventoryService creates a new InventoryService.
func NewInventoryService(store SupplyStore) *InventoryService {
	return &InventoryService{store: store}
}

// CreateSupply registers a stock item.
func (s *InventoryService) CreateSupply(ctx context.Context, n domain.NewSupply) (*domain.Supply, error) {
	if n.Name == "" {
		return nil, fmt.Errorf("supply name is required: %w", domain.ErrInvalidInput)
	}
	if n.ReorderPoint < 0 || n.ReorderQty < 0 {
		return nil, fmt.Errorf("reorder point and quantity must not be negative: %w", domain.ErrInvalidInput)
	}
	return s.store.CreateSupply(ctx, n)
}

// GetSupply retrieves a supply with its stock rows and current allocation.
func (s *InventoryService) GetSupply(ctx context.Context, id int64) (*domain.Supply, error) {
	supply, err := s.store.GetSupply(ctx, id)
	if err != nil {
		return nil, err
	}
	alloc, err := s.store.Allocations(ctx)
	if err != nil {
		return nil, err
	}
	supply.Allocated = alloc[supply.ID]
	return supply, nil
}

// ListSupplies retrieves all supplies with stock rows and allocations.
func (s *InventoryService) ListSupplies(ctx context.Context) ([]domain.Supply, error) {
	supplies, err := s.store.ListSupplies(ctx)
	if err != nil {
		return nil, err
	}
	alloc, err := s.store.Allocations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range supplies {
		supplies[i].Allocated = alloc[supplies[i].ID]
	}
	return supplies, nil
}

// CreateLocation registers a storage location.
func (s *InventoryService) CreateLocation(ctx context.Context, name string) (*domain.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("location name is required: %w", domain.ErrInvalidInput)
	}
	return s.store.CreateLocation(ctx, name)
}

// ListLocations retrieves all storage locations.
func (s *InventoryService) ListLocations(ctx context.Context) ([]domain.Location, error) {
	return s.store.ListLocations(ctx)
}

// ReceiveStock records qty sheets of a supply arriving at a location.
func (s *InventoryService) ReceiveStock(ctx context.Context, supplyID, locationID int64, qty int) (*domain.SupplyStock, error) {
	if qty < 1 {
		return nil, fmt.Errorf("receive quantity %d: %w", qty, domain.ErrInvalidQuantity)
	}
	return s.store.ReceiveStock(ctx, supplyID, locationID, qty)
}

// ConsumeStock draws qty sheets of a supply from its locations first-fit.
// When stock cannot cover qty, nothing is drawn and ErrInsufficientStock
// is returned.
func (s *InventoryService) ConsumeStock(ctx context.Context, supplyID int64, qty int) ([]domain.SupplyStock, error) {
	if qty < 1 {
		return nil, fmt.Errorf("consume quantity %d: %w", qty, domain.ErrInvalidQuantity)
	}
	return s.store.ConsumeStock(ctx, supplyID, qty)
}

// ReorderSuggestions proposes purchases for supplies whose stock, less the
// sheets still owed to unfinished jobs, fell below their reorder point.
func (s *InventoryService) ReorderSuggestions(ctx context.Context) ([]domain.ReorderSuggestion, error) {
	supplies, err := s.store.ListSupplies(ctx)
	if err != nil {
		return nil, err
	}
	alloc, err := s.store.Allocations(ctx)
	if err != nil {
		return nil, err
	}
	suggestions := []domain.ReorderSuggestion{}
	for _, supply := range supplies {
		if sg := domain.SuggestReorder(supply, domain.OnHandTotal(supply.Stock), alloc[supply.ID]); sg != nil {
			suggestions = append(suggestions, *sg)
		}
	}
	return suggestions, nil
}
