package model

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductAvailable    ProductStatus = "AVAILABLE"
	ProductOutOfStock   ProductStatus = "OUT_OF_STOCK"
	ProductDiscontinued ProductStatus = "DISCONTINUED"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductAvailable, ProductOutOfStock, ProductDiscontinued:
		return true
	}
	return false
}

// Product. StockQuantity is only ever changed through the inventory
// ledger's stock adjustment; nothing else writes that column.
type Product struct {
	ID            int64           `db:"id"`
	Name          string          `db:"name"`
	Description   string          `db:"description"`
	Price         decimal.Decimal `db:"price"`
	StockQuantity int             `db:"stock_quantity"`
	Category      string          `db:"category"`
	Status        ProductStatus   `db:"status"`
	CreatedAt     sql.NullTime    `db:"created_at"`
	UpdatedAt     sql.NullTime    `db:"updated_at"`
}
