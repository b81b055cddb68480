package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/offer"
	"github.com/Domenick1991/skyorder/internal/service/flights"
	"github.com/Domenick1991/skyorder/internal/trip"
	"github.com/gin-gonic/gin"
)

type FlightHandler struct {
	service flights.FlightUseCase
}

func NewFlightHandler(service flights.FlightUseCase) *FlightHandler {
	return &FlightHandler{service: service}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.GET("/search", h.searchQuery)
	router.POST("/search", h.searchBody)
	router.GET("/places", h.places)
}

var errMissingSearchParams = errors.New("missing required search parameters")

func (h *FlightHandler) searchQuery(c *gin.Context) {
	input, err := searchInputFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing required search parameters"})
		return
	}
	h.search(c, input)
}

type searchRequest struct {
	flights.SearchInput
	Trips    json.RawMessage `json:"trips"`
	Fields   json.RawMessage `json:"fields"`
	Adults   flexInt         `json:"adult"`
	Children flexInt         `json:"children"`
	Infants  flexInt         `json:"infants"`
	Max      flexInt         `json:"max"`
}

// flexInt accepts passenger counts sent as numbers or numeric strings ("1").
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid count %q", s)
		}
		*n = flexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

func (h *FlightHandler) searchBody(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing required search parameters", "error": err.Error()})
		return
	}
	if len(bytes.TrimSpace(req.Trips)) == 0 || req.Adults == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing required search parameters"})
		return
	}
	input := req.SearchInput
	input.Adults = int(req.Adults)
	input.Children = int(req.Children)
	input.Infants = int(req.Infants)
	input.Max = int(req.Max)
	if err := json.Unmarshal(req.Trips, &input.Trips); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No valid trips provided", "error": err.Error()})
		return
	}
	input.Fields = fieldsFromJSON(req.Fields)
	h.search(c, input)
}

func (h *FlightHandler) search(c *gin.Context, input flights.SearchInput) {
	if len(input.Trips) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No valid trips provided"})
		return
	}

	result, err := h.service.Search(c.Request.Context(), input)
	if err != nil {
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Flight search failed", "error": validation.Error()})
			return
		}
		writeError(c, "Flight search failed", err)
		return
	}

	writeSuccess(c, "Flight offers fetched successfully", gin.H{
		"payload": gin.H{
			"total":     len(result.Offers),
			"trip_type": result.TripType,
			"formatted": result.Formatted(),
		},
	})
}

func searchInputFromQuery(c *gin.Context) (flights.SearchInput, error) {
	rawTrips := strings.TrimSpace(c.Query("trips"))
	adults, ok := queryInt(c, "adult")
	if rawTrips == "" || !ok || adults == 0 {
		return flights.SearchInput{}, errMissingSearchParams
	}
	children, _ := queryInt(c, "children")
	infants, _ := queryInt(c, "infants")
	max, _ := queryInt(c, "max")

	return flights.SearchInput{
		Trips:        trip.ParseString(rawTrips),
		TripType:     c.Query("trip_type"),
		Adults:       adults,
		Children:     children,
		Infants:      infants,
		TravelClass:  c.Query("travelClass"),
		CurrencyCode: strings.ToUpper(strings.TrimSpace(c.Query("currencyCode"))),
		Max:          max,
		ReturnDate:   c.Query("returnDate"),
		Fields:       offer.ParseFields(append(c.QueryArray("fields"), c.QueryArray("fields[]")...)...),
	}, nil
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// fieldsFromJSON accepts "a,b" or ["a","b"].
func fieldsFromJSON(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return offer.ParseFields(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return offer.ParseFields(list...)
	}
	return nil
}

func (h *FlightHandler) places(c *gin.Context) {
	airports, err := h.service.Places(c.Request.Context(), c.Query("query"))
	if err != nil {
		writeError(c, "Failed to fetch airports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": airports})
}
