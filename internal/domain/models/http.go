package models

// TradesRequest filters the trade listing.
type TradesRequest struct {
	Status string `query:"status" validate:"omitempty,oneof=open hit_t1 hit_t2 stopped closed_flat"`
	Symbol string `query:"symbol" validate:"omitempty,min=1,max=16"`
}

// SignalRequest identifies one instrument's session signal.
type SignalRequest struct {
	Symbol string `param:"symbol" validate:"required,min=1,max=16"`
}

// HealthResponse reports dependency health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Sessions map[string]string `json:"sessions,omitempty"`
	Checks   map[string]string `json:"checks"`
}
