package api

import (
	"net/http"

	"github.com/Domenick1991/skyorder/internal/offer"
	"github.com/Domenick1991/skyorder/internal/service/pricing"
	"github.com/gin-gonic/gin"
)

type PricingHandler struct {
	service pricing.PricingUseCase
}

func NewPricingHandler(service pricing.PricingUseCase) *PricingHandler {
	return &PricingHandler{service: service}
}

func (h *PricingHandler) Register(router *gin.RouterGroup) {
	router.POST("/offers/pricing", h.price)
}

type pricingRequest struct {
	FullOfferEncoded offer.Input `json:"full_offer_encoded"`
}

func (h *PricingHandler) price(c *gin.Context) {
	var req pricingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FullOfferEncoded.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing encoded flight offer data."})
		return
	}

	result, err := h.service.Price(c.Request.Context(), req.FullOfferEncoded)
	if err != nil {
		writeError(c, "Flight pricing failed", err)
		return
	}

	writeSuccess(c, "Flight pricing successful", gin.H{
		"unique_key":      result.UniqueKey,
		"pricing_payload": result.Pricing,
		"seatmap":         result.Seatmap,
		"ancillary":       result.Ancillary,
		"details":         []*offer.NormalizedOffer{result.Details},
	})
}
