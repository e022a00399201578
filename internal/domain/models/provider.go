package models

import "strings"

// Provider identifies a payment processor. PayOnArrival is the cash
// pseudo-provider and never reaches a gateway.
type Provider string

const (
	ProviderYooKassa     Provider = "yookassa"
	ProviderStripe       Provider = "stripe"
	ProviderPayPal       Provider = "paypal"
	ProviderWebPay       Provider = "webpay"
	ProviderPayOnArrival Provider = "pay_on_arrival"
)

var providerLabels = map[Provider]string{
	ProviderYooKassa:     "YooKassa (cards, SBP)",
	ProviderStripe:       "Stripe (international cards)",
	ProviderPayPal:       "PayPal",
	ProviderWebPay:       "WebPay (Belarus)",
	ProviderPayOnArrival: "Pay on arrival",
}

// ParseProvider normalizes a client supplied provider key.
func ParseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := providerLabels[p]
	return p, ok
}

func (p Provider) Valid() bool {
	_, ok := providerLabels[p]
	return ok
}

func (p Provider) Label() string {
	if l, ok := providerLabels[p]; ok {
		return l
	}
	return string(p)
}

// RequiresOnlinePayment is false only for the cash pseudo-provider.
func (p Provider) RequiresOnlinePayment() bool {
	return p != ProviderPayOnArrival
}

// OnlineProviders lists every provider backed by a gateway driver.
func OnlineProviders() []Provider {
	return []Provider{ProviderYooKassa, ProviderStripe, ProviderPayPal, ProviderWebPay}
}
