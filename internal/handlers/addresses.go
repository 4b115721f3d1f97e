package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/platform/httpx"
	"github.com/idpfunnel/api/internal/services"
)

// AddressHandlers let the form preview how a shipping address will be printed on the label.
type AddressHandlers struct {
	normalizer *services.AddressNormalizer
}

// NewAddressHandlers constructs the address endpoints. A nil normalizer uses the default tables.
func NewAddressHandlers(normalizer *services.AddressNormalizer) *AddressHandlers {
	if normalizer == nil {
		normalizer = services.NewAddressNormalizer()
	}
	return &AddressHandlers{normalizer: normalizer}
}

// Routes registers address endpoints under the provided router.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/normalize", h.normalize)
}

type normalizeAddressRequest struct {
	Text    string                `json:"text"`
	Country string                `json:"country"`
	Fields  *addressFieldsPayload `json:"fields"`
}

type normalizeAddressResponse struct {
	Address       domain.CanonicalAddress `json:"address"`
	RequiresState bool                    `json:"requiresState"`
}

func (h *AddressHandlers) normalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req normalizeAddressRequest
	if err := decodeJSONBody(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	var addr domain.CanonicalAddress
	if req.Fields != nil {
		fields := shippingAddressPayload{Fields: req.Fields}.toDomain().Fields
		if strings.TrimSpace(fields.Country) == "" {
			fields.Country = req.Country
		}
		addr = h.normalizer.NormalizeFields(fields)
	} else {
		if strings.TrimSpace(req.Text) == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "text or fields is required", http.StatusBadRequest))
			return
		}
		addr = h.normalizer.Normalize(req.Text, req.Country)
	}
	writeJSONResponse(w, r, http.StatusOK, normalizeAddressResponse{
		Address:       addr,
		RequiresState: addr.RequiresState(),
	})
}
