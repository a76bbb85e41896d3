package asset

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	RealEstate   Category = "real-estate"
	Vehicles     Category = "vehicles"
	Collectibles Category = "collectibles"
)

// HistoryCap bounds PriceHistory. The oldest points are dropped first.
const HistoryCap = 100

type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Asset is a fractionally traded item. Only the registry mutates it.
type Asset struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Category        Category        `json:"category"`
	TotalShares     int64           `json:"totalShares"`
	AvailableShares int64           `json:"availableShares"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	PriceHistory    []PricePoint    `json:"priceHistory"`
}

func (a *Asset) clone() Asset {
	out := *a
	out.PriceHistory = make([]PricePoint, len(a.PriceHistory))
	copy(out.PriceHistory, a.PriceHistory)
	return out
}

// DefaultCatalog returns the marketplace listing the server boots with.
func DefaultCatalog() []Asset {
	return []Asset{
		{
			ID:              "asset_001",
			Name:            "1965 Ferrari 275 GTB",
			Description:     "Vintage sports car in pristine condition",
			Category:        Vehicles,
			TotalShares:     1000,
			AvailableShares: 450,
			CurrentPrice:    decimal.NewFromInt(4850),
		},
		{
			ID:              "asset_002",
			Name:            "Manhattan Penthouse",
			Description:     "Luxury penthouse in downtown Manhattan",
			Category:        RealEstate,
			TotalShares:     5000,
			AvailableShares: 2300,
			CurrentPrice:    decimal.NewFromInt(12000),
		},
		{
			ID:              "asset_003",
			Name:            "Picasso Original Painting",
			Description:     "Authentic Picasso painting from 1932",
			Category:        Collectibles,
			TotalShares:     2000,
			AvailableShares: 800,
			CurrentPrice:    decimal.NewFromInt(25000),
		},
		{
			ID:              "asset_004",
			Name:            "Rolex Submariner Watch",
			Description:     "Classic Rolex watch with diamond bezel",
			Category:        Collectibles,
			TotalShares:     1500,
			AvailableShares: 600,
			CurrentPrice:    decimal.NewFromInt(7500),
		},
	}
}
