package main

import (
	"context"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"
)

// memoryバックエンド用の初期商品（価格は最小通貨単位）
var seedCatalog = []model.Product{
	{SKU: "TEE-001", Name: "Basic Tee", Price: 2000, Stock: 50, IsActive: true},
	{SKU: "CAP-001", Name: "Logo Cap", Price: 1500, Stock: 20, IsActive: true},
	{SKU: "MUG-001", Name: "Mug", Price: 600, Stock: 5, IsActive: true},
	{SKU: "OLD-001", Name: "Discontinued Hoodie", Price: 4800, Stock: 3, IsActive: false},
}

func seedProducts(ctx context.Context, products repo.ProductRepository) error {
	for _, p := range seedCatalog {
		if _, err := products.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
