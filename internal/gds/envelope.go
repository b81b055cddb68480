package gds

import (
	"encoding/json"
	"fmt"
)

// DataList returns the "data" array of a GDS response.
func DataList(raw json.RawMessage) ([]json.RawMessage, error) {
	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode gds data list: %w", err)
	}
	if envelope.Data == nil {
		return []json.RawMessage{}, nil
	}
	return envelope.Data, nil
}

// DataID returns data.id of a GDS response, or "" when absent.
func DataID(raw json.RawMessage) string {
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Data.ID
}

// PricedOffer returns data.flightOffers[0] of a pricing response, or nil.
func PricedOffer(raw json.RawMessage) json.RawMessage {
	var envelope struct {
		Data struct {
			FlightOffers []json.RawMessage `json:"flightOffers"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Data.FlightOffers) == 0 {
		return nil
	}
	return envelope.Data.FlightOffers[0]
}
