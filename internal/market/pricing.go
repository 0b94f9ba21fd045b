package market

import (
	"github.com/shopspring/decimal"

	"github.com/gharti/bike-market/internal/config"
	"github.com/gharti/bike-market/internal/models"
)

// Quote is the priced breakdown of an order before persistence.
type Quote struct {
	BicyclePrice decimal.Decimal `json:"bicycle_price"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
}

// ComputeQuote prices an order: shipping is free for self-pickup, otherwise
// base cost plus a surcharge for remote counties; tax is the configured
// rate applied to price+shipping, rounded to whole currency units.
func ComputeQuote(cfg *config.MarketConfig, price decimal.Decimal, method models.ShippingMethod, county string) Quote {
	shipping := decimal.Zero
	if method == models.ShippingMethodDelivery {
		shipping = cfg.ShippingBaseCost
		if isRemoteCounty(cfg, county) {
			shipping = shipping.Add(cfg.ShippingRemoteSurcharge)
		}
	}

	subtotal := price.Add(shipping)
	tax := subtotal.Mul(cfg.TaxRate).Round(0)

	return Quote{
		BicyclePrice: price,
		ShippingCost: shipping,
		Tax:          tax,
		Total:        subtotal.Add(tax),
	}
}

func isRemoteCounty(cfg *config.MarketConfig, county string) bool {
	for _, c := range cfg.RemoteCounties {
		if c == county {
			return true
		}
	}
	return false
}
