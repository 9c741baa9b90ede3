package memstore

import (
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

// Catalog ids seeded by SeedCatalog.
const (
	CategoryPulsa   int64 = 1
	CategoryGame    int64 = 2
	CategorySpecial int64 = 3

	ProductPulsa50 int64 = 10
	ProductGame    int64 = 11
	ProductSpecial int64 = 12

	MethodVA     int64 = 1
	MethodWallet int64 = 2

	ProviderName = "acme"
	UserID       = "user-1"
)

// SeedCatalog loads a small catalog used across service tests: a pulsa
// product priced 50,000 with provider cost 30,000, a game product needing
// two input fields, a virtual account charging a flat 2,000 fee and one
// registered user with an empty balance.
func SeedCatalog(s *Store) {
	s.AddCategory(orders.Category{ID: CategoryPulsa, Name: "Pulsa", IsAvailable: true})
	s.AddCategory(orders.Category{ID: CategoryGame, Name: "Games", IsAvailable: true})
	s.AddCategory(orders.Category{ID: CategorySpecial, Name: "PLN Postpaid", IsAvailable: true, IsSpecialFeature: true})
	s.AddSubcategory(orders.Subcategory{ID: 1, CategoryID: CategoryPulsa, Name: "Telkomsel", IsAvailable: true})

	s.AddInputField(orders.InputField{ID: 1, CategoryID: CategoryPulsa, Name: "phone", Label: "Phone number", IsRequired: true, Position: 1})
	s.AddInputField(orders.InputField{ID: 3, CategoryID: CategoryGame, Name: "zone_id", Label: "Zone", IsRequired: true, Position: 2})
	s.AddInputField(orders.InputField{ID: 2, CategoryID: CategoryGame, Name: "game_id", Label: "Player id", IsRequired: true, Position: 1})

	s.AddProduct(orders.Product{
		ID: ProductPulsa50, CategoryID: CategoryPulsa, SubcategoryID: 1, Name: "Telkomsel 50K",
		ProviderName: ProviderName, ProviderCode: "TSEL50", BillingType: "PREPAID",
		Price: 50000, ProviderPrice: 30000, MaxPrice: 31000, Stock: 5, IsAvailable: true,
	})
	s.AddProduct(orders.Product{
		ID: ProductGame, CategoryID: CategoryGame, Name: "86 Diamonds",
		ProviderName: ProviderName, ProviderCode: "ML86", BillingType: "PREPAID",
		Price: 20000, ProviderPrice: 18000, MaxPrice: 18500, Separator: "|", Stock: 5, IsAvailable: true,
	})
	s.AddProduct(orders.Product{
		ID: ProductSpecial, CategoryID: CategorySpecial, Name: "PLN bill",
		ProviderName: ProviderName, ProviderCode: "PLN", Price: 100000, Stock: 5, IsAvailable: true,
	})

	s.AddPaymentMethod(orders.PaymentMethod{
		ID: MethodVA, Code: "VA_BCA", Name: "BCA Virtual Account",
		FeeStatic: 2000, FeePercentage: decimal.Zero, MinAmount: 10000, IsAvailable: true,
	})
	s.AddPaymentMethod(orders.PaymentMethod{
		ID: MethodWallet, Code: "OVO", Name: "OVO",
		FeePercentage: decimal.RequireFromString("1.5"), IsAvailable: true, NeedsPhone: true,
	})

	s.AddUser(UserID, 0)
}

// PercentOffer is an always-valid offer open to everyone.
func PercentOffer(id int64, typ orders.OfferType, pct, maximum int64) orders.Offer {
	return orders.Offer{
		ID:                  id,
		Name:                "promo",
		Type:                typ,
		DiscountPercentage:  decimal.NewFromInt(pct),
		DiscountMaximum:     maximum,
		IsAvailable:         true,
		IsUnlimitedDate:     true,
		IsUnlimitedQuota:    true,
		IsAllProducts:       true,
		IsAllUsers:          true,
		IsAllPaymentMethods: true,
	}
}
