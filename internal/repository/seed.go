package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mmeshcher/stallorder/internal/model"
)

// CatalogWriter принимает продавцов, меню и ваучеры.
type CatalogWriter interface {
	UpsertVendor(ctx context.Context, v model.Vendor) error
	UpsertMenuItem(ctx context.Context, item model.MenuItem) error
	UpsertVoucher(ctx context.Context, v model.Voucher) error
}

// Catalog описывает содержимое файла каталога.
type Catalog struct {
	Vendors   []model.Vendor   `json:"vendors"`
	MenuItems []model.MenuItem `json:"menuItems"`
	Vouchers  []model.Voucher  `json:"vouchers"`
}

// LoadCatalog читает каталог в формате JSON и записывает его в хранилище.
// Позиции меню неизвестных продавцов отклоняются.
func LoadCatalog(ctx context.Context, w CatalogWriter, r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	vendors := make(map[string]struct{}, len(c.Vendors))
	for _, v := range c.Vendors {
		if v.ID == "" {
			return nil, fmt.Errorf("vendor %q has no id", v.Name)
		}
		vendors[v.ID] = struct{}{}
	}
	for _, item := range c.MenuItems {
		if _, ok := vendors[item.VendorID]; !ok {
			return nil, fmt.Errorf("menu item %s references unknown vendor %q", item.ID, item.VendorID)
		}
		if item.Price <= 0 || item.Stock < 0 {
			return nil, fmt.Errorf("menu item %s has invalid price or stock", item.ID)
		}
	}

	for _, v := range c.Vendors {
		if err := w.UpsertVendor(ctx, v); err != nil {
			return nil, fmt.Errorf("upsert vendor %s: %w", v.ID, err)
		}
	}
	for _, item := range c.MenuItems {
		if err := w.UpsertMenuItem(ctx, item); err != nil {
			return nil, fmt.Errorf("upsert menu item %s: %w", item.ID, err)
		}
	}
	for _, v := range c.Vouchers {
		if err := w.UpsertVoucher(ctx, v); err != nil {
			return nil, fmt.Errorf("upsert voucher %s: %w", v.Code, err)
		}
	}

	return &c, nil
}
