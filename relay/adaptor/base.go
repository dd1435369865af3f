package adaptor

import (
	"fmt"

	"github.com/cheaprelay/cheaprelay/model"
)

// Base carries the behavior every adapter shares: identity and catalog-based
// cost estimation.
type Base struct {
	Provider string
}

// ProviderID returns the catalog key of this provider.
func (b Base) ProviderID() string { return b.Provider }

// EstimateCost prices a call from the model catalog. Unknown models price at
// zero so billing degrades instead of failing.
func (b Base) EstimateCost(modelID string, tokensIn, tokensOut int) float64 {
	return model.EstimateCostUSD(b.Provider, modelID, tokensIn, tokensOut)
}

// CatalogModels lists the enabled catalog model ids for this provider.
func (b Base) CatalogModels() []string {
	rows, err := model.GetEnabledModelsByProvider(b.Provider)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ModelID)
	}
	return ids
}

// Provider failure kinds, surfaced in logs and step details.
const (
	ErrKindTransport = "provider_transport"
	ErrKindAuth      = "provider_auth"
	ErrKindRateLimit = "provider_rate_limit"
	ErrKindTimeout   = "provider_timeout"
)

// ProviderError tags an upstream failure with its kind.
type ProviderError struct {
	Kind    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewProviderError builds a tagged upstream failure.
func NewProviderError(kind, message string) *ProviderError {
	return &ProviderError{Kind: kind, Message: message}
}

// KindForStatus maps an upstream HTTP status to a failure kind.
func KindForStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 429:
		return ErrKindRateLimit
	case status == 408 || status == 504:
		return ErrKindTimeout
	default:
		return ErrKindTransport
	}
}
