package offer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/Domenick1991/skyorder/internal/domain"
)

// Encode turns a raw offer into its opaque token: base64 of the compacted JSON.
func Encode(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", &domain.InvalidOfferDataError{Reason: err.Error()}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. The token must decode to a JSON object.
func Decode(token string) (json.RawMessage, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &domain.InvalidOfferDataError{Reason: "empty offer token"}
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &domain.InvalidOfferDataError{Reason: "offer token is not valid base64"}
	}
	if err := requireObject(data); err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func requireObject(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return &domain.InvalidOfferDataError{Reason: "offer data is not a JSON object"}
	}
	return nil
}

// Input is what callers send back for pricing: either the opaque token string
// or the raw offer object itself.
type Input struct {
	Token string
	Raw   json.RawMessage
}

func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*in = Input{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Input{Token: s}
	default:
		*in = Input{Raw: append(json.RawMessage(nil), data...)}
	}
	return nil
}

func (in Input) Empty() bool {
	return strings.TrimSpace(in.Token) == "" && len(in.Raw) == 0
}

// Resolve yields the raw offer object behind the input.
func (in Input) Resolve() (json.RawMessage, error) {
	if len(in.Raw) > 0 {
		if err := requireObject(in.Raw); err != nil {
			return nil, err
		}
		return in.Raw, nil
	}
	return Decode(in.Token)
}

// SideResult is the outcome of a best-effort upstream call. Degraded is set
// when the call failed and Payload is therefore absent.
type SideResult struct {
	Payload  json.RawMessage
	Degraded bool
}

func (r SideResult) MarshalJSON() ([]byte, error) {
	if r.Degraded || len(r.Payload) == 0 {
		return []byte("null"), nil
	}
	return r.Payload, nil
}
