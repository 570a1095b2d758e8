package types

type CreditKind string

const (
	CreditKindSignupBonus   CreditKind = "signup_bonus"
	CreditKindPurchase      CreditKind = "purchase"
	CreditKindVideoCreation CreditKind = "video_creation"
	CreditKindRefund        CreditKind = "refund"
	CreditKindGift          CreditKind = "gift"
)

var CreditKinds = []CreditKind{
	CreditKindSignupBonus,
	CreditKindPurchase,
	CreditKindVideoCreation,
	CreditKindRefund,
	CreditKindGift,
}

func (k CreditKind) Valid() bool {
	for _, v := range CreditKinds {
		if v == k {
			return true
		}
	}
	return false
}

// CreditPack is a purchasable bundle of credits sold through the payment processor.
type CreditPack struct {
	ID      string `json:"id" mapstructure:"id"`
	Credits int64  `json:"credits" mapstructure:"credits"`
	PriceID string `json:"price_id" mapstructure:"price_id"`
}

type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderInner  PaymentProvider = "inner"
)
