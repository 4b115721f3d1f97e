package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/platform/httpx"
	"github.com/idpfunnel/api/internal/services"
)

// PricingHandlers quote orders before an application exists.
type PricingHandlers struct {
	payments services.PaymentService
}

// NewPricingHandlers constructs the pricing endpoints.
func NewPricingHandlers(payments services.PaymentService) *PricingHandlers {
	return &PricingHandlers{payments: payments}
}

// Routes registers pricing endpoints under the provided router.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
}

type quoteRequest struct {
	Permits          []string `json:"permits"`
	ShippingCategory string   `json:"shippingCategory"`
	ProcessingSpeed  string   `json:"processingSpeed"`
	CouponCode       string   `json:"couponCode"`
}

// breakdownResponse renders money as fixed two-decimal strings.
type breakdownResponse struct {
	Currency                string   `json:"currency"`
	Permits                 []string `json:"permits"`
	ShippingCategory        string   `json:"shippingCategory"`
	ProcessingSpeed         string   `json:"processingSpeed"`
	PermitTotal             string   `json:"permitTotal"`
	ShippingProcessingPrice string   `json:"shippingProcessingPrice"`
	Subtotal                string   `json:"subtotal"`
	TaxRate                 string   `json:"taxRate"`
	TaxAmount               string   `json:"taxAmount"`
	TotalBeforeDiscount     string   `json:"totalBeforeDiscount"`
	CouponCode              string   `json:"couponCode,omitempty"`
	CouponStatus            string   `json:"couponStatus,omitempty"`
	DiscountAmount          string   `json:"discountAmount"`
	FinalTotal              string   `json:"finalTotal"`
	AmountInMinorUnits      int64    `json:"amountInMinorUnits"`
	MinimumChargeApplied    bool     `json:"minimumChargeApplied"`
}

func (h *PricingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req quoteRequest
	if err := decodeJSONBody(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	breakdown, err := h.payments.Quote(ctx, services.OrderRequest{
		Permits:          req.Permits,
		ShippingCategory: domain.ShippingCategory(strings.ToLower(strings.TrimSpace(req.ShippingCategory))),
		ProcessingSpeed:  domain.ProcessingSpeed(strings.ToLower(strings.TrimSpace(req.ProcessingSpeed))),
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, r, http.StatusOK, newBreakdownResponse(breakdown))
}

func newBreakdownResponse(b domain.OrderBreakdown) breakdownResponse {
	permits := b.Permits
	if permits == nil {
		permits = []string{}
	}
	return breakdownResponse{
		Currency:                b.Currency,
		Permits:                 permits,
		ShippingCategory:        string(b.ShippingCategory),
		ProcessingSpeed:         string(b.ProcessingSpeed),
		PermitTotal:             b.PermitTotal.StringFixed(2),
		ShippingProcessingPrice: b.ShippingProcessingPrice.StringFixed(2),
		Subtotal:                b.Subtotal.StringFixed(2),
		TaxRate:                 b.TaxRate.String(),
		TaxAmount:               b.TaxAmount.StringFixed(2),
		TotalBeforeDiscount:     b.TotalBeforeDiscount.StringFixed(2),
		CouponCode:              b.CouponCode,
		CouponStatus:            string(b.CouponStatus),
		DiscountAmount:          b.DiscountAmount.StringFixed(2),
		FinalTotal:              b.FinalTotal.StringFixed(2),
		AmountInMinorUnits:      b.AmountInMinorUnits,
		MinimumChargeApplied:    b.MinimumChargeApplied,
	}
}
