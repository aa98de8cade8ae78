package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// PriceStore provides an in-memory implementation for development/testing.
type PriceStore struct {
	mu           sync.RWMutex
	products     map[int64]tracker.Product
	competitors  map[int64]tracker.Competitor
	observations []tracker.PriceObservation
	nextID       int64
}

// NewPriceStore constructs an empty PriceStore.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		products:    make(map[int64]tracker.Product),
		competitors: make(map[int64]tracker.Competitor),
	}
}

// AddProduct registers a product. A zero ID is assigned automatically.
func (s *PriceStore) AddProduct(product tracker.Product) (tracker.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(product.Name) == "" {
		return tracker.Product{}, fmt.Errorf("product name is required")
	}
	for _, p := range s.products {
		if p.Name == product.Name {
			return tracker.Product{}, fmt.Errorf("product %q already exists", product.Name)
		}
	}
	if product.ID == 0 {
		product.ID = s.allocID()
	}
	s.products[product.ID] = product
	return product, nil
}

// AddCompetitor registers a competitor with a fixed ID.
func (s *PriceStore) AddCompetitor(competitor tracker.Competitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitors[competitor.ID] = competitor
}

// GetProduct fetches a product by ID.
func (s *PriceStore) GetProduct(_ context.Context, id int64) (tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return tracker.Product{}, tracker.ErrNotFound
	}
	return product, nil
}

// ListProducts returns all products ordered by ID.
func (s *PriceStore) ListProducts(_ context.Context) ([]tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCompetitorByName looks up a competitor by its unique name.
func (s *PriceStore) GetCompetitorByName(_ context.Context, name string) (tracker.Competitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.findCompetitor(name); ok {
		return c, nil
	}
	return tracker.Competitor{}, tracker.ErrNotFound
}

// EnsureCompetitor returns the named competitor, creating it if needed.
func (s *PriceStore) EnsureCompetitor(_ context.Context, name string) (tracker.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.findCompetitor(name); ok {
		return c, nil
	}
	c := tracker.Competitor{ID: s.allocID(), Name: name}
	s.competitors[c.ID] = c
	return c, nil
}

// InsertPriceObservation appends an observation after checking references.
func (s *PriceStore) InsertPriceObservation(
	_ context.Context,
	obs tracker.PriceObservation,
) (tracker.PriceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[obs.ProductID]; !ok {
		return tracker.PriceObservation{}, fmt.Errorf("insert observation: unknown product %d", obs.ProductID)
	}
	if _, ok := s.competitors[obs.CompetitorID]; !ok {
		return tracker.PriceObservation{}, fmt.Errorf("insert observation: unknown competitor %d", obs.CompetitorID)
	}
	if obs.Price < 0 {
		return tracker.PriceObservation{}, fmt.Errorf("insert observation: negative price %v", obs.Price)
	}
	obs.ID = s.allocID()
	s.observations = append(s.observations, obs)
	return obs, nil
}

// SetProductSKUIfEmpty records the SKU unless one is already set.
func (s *PriceStore) SetProductSKUIfEmpty(_ context.Context, productID int64, sku string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok || product.SKU != "" {
		return false, nil
	}
	product.SKU = sku
	s.products[productID] = product
	return true, nil
}

// ListPriceObservations returns a product's observations in insertion order.
func (s *PriceStore) ListPriceObservations(_ context.Context, productID int64) ([]tracker.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.PriceObservation, 0)
	for _, obs := range s.observations {
		if obs.ProductID == productID {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (s *PriceStore) findCompetitor(name string) (tracker.Competitor, bool) {
	for _, c := range s.competitors {
		if c.Name == name {
			return c, true
		}
	}
	return tracker.Competitor{}, false
}

func (s *PriceStore) allocID() int64 {
	s.nextID++
	for {
		_, p := s.products[s.nextID]
		_, c := s.competitors[s.nextID]
		if !p && !c {
			return s.nextID
		}
		s.nextID++
	}
}
