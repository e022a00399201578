package gateway

import (
	"sort"

	"tripbooking/internal/domain"
	"tripbooking/internal/domain/models"
)

// Registry maps provider keys to configured drivers. It is built once at
// startup and read-only afterwards.
type Registry struct {
	drivers map[models.Provider]Gateway
}

func NewRegistry(drivers ...Gateway) *Registry {
	r := &Registry{drivers: make(map[models.Provider]Gateway, len(drivers))}
	for _, d := range drivers {
		if d == nil {
			continue
		}
		r.drivers[d.Provider()] = d
	}
	return r
}

// Get resolves the driver for p.
func (r *Registry) Get(p models.Provider) (Gateway, error) {
	if !p.Valid() {
		return nil, domain.ValidationError{Field: "provider", Msg: "unknown payment provider"}
	}
	if !p.RequiresOnlinePayment() {
		return nil, domain.ValidationError{Field: "provider", Msg: "provider does not accept online payments"}
	}
	d, ok := r.drivers[p]
	if !ok {
		return nil, domain.UnsupportedOperationError{Provider: string(p), Operation: "payments (not configured)"}
	}
	return d, nil
}

// Providers lists the configured providers in stable order.
func (r *Registry) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(r.drivers))
	for p := range r.drivers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
