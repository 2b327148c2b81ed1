package billing

// SubscriptionTier defines a subscription plan tier.
type SubscriptionTier struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ProductID      string `json:"product_id"` // Creem product id
	MonthlyCredits int    `json:"monthly_credits"`
	// BillingInterval is how often the provider renews the subscription.
	// Credits are granted monthly regardless.
	BillingInterval string `json:"billing_interval"`
}

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// BilledYearly reports whether one billing period spans several monthly grants.
func (t *SubscriptionTier) BilledYearly() bool {
	return t.BillingInterval == IntervalYear
}

// CreditPack is a one-time credit top-up sold through checkout.
type CreditPack struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProductID string `json:"product_id"`
	Credits   int    `json:"credits"`
}

// Tiers holds all subscription tiers keyed by tier ID.
var Tiers = map[string]*SubscriptionTier{
	"pro": {
		ID:              "pro",
		Name:            "Pro",
		ProductID:       "prod_buzzcut_pro_monthly",
		MonthlyCredits:  300,
		BillingInterval: IntervalMonth,
	},
	"pro_yearly": {
		ID:              "pro_yearly",
		Name:            "Pro (Yearly)",
		ProductID:       "prod_buzzcut_pro_yearly",
		MonthlyCredits:  300,
		BillingInterval: IntervalYear,
	},
	"ultimate": {
		ID:              "ultimate",
		Name:            "Ultimate",
		ProductID:       "prod_buzzcut_ultimate_monthly",
		MonthlyCredits:  1000,
		BillingInterval: IntervalMonth,
	},
}

// TierOrder defines the display ordering of tiers.
var TierOrder = []string{"pro", "pro_yearly", "ultimate"}

// Packs holds the one-time credit packs keyed by pack ID.
var Packs = map[string]*CreditPack{
	"starter": {ID: "starter", Name: "Starter pack", ProductID: "prod_buzzcut_pack_50", Credits: 50},
	"creator": {ID: "creator", Name: "Creator pack", ProductID: "prod_buzzcut_pack_150", Credits: 150},
	"studio":  {ID: "studio", Name: "Studio pack", ProductID: "prod_buzzcut_pack_500", Credits: 500},
}

// GetTier returns a tier by its ID.
func GetTier(id string) *SubscriptionTier {
	return Tiers[id]
}

// GetTierByProductID finds a tier by its Creem product ID.
func GetTierByProductID(productID string) *SubscriptionTier {
	if productID == "" {
		return nil
	}
	for _, t := range Tiers {
		if t.ProductID == productID {
			return t
		}
	}
	return nil
}

// GetPackByProductID finds a credit pack by its Creem product ID.
func GetPackByProductID(productID string) *CreditPack {
	if productID == "" {
		return nil
	}
	for _, p := range Packs {
		if p.ProductID == productID {
			return p
		}
	}
	return nil
}

// ApplyProductIDs overrides product ids from configuration. Keys are tier or
// pack IDs; unknown keys are ignored.
func ApplyProductIDs(ids map[string]string) {
	for id, productID := range ids {
		if productID == "" {
			continue
		}
		if t, ok := Tiers[id]; ok {
			t.ProductID = productID
			continue
		}
		if p, ok := Packs[id]; ok {
			p.ProductID = productID
		}
	}
}
