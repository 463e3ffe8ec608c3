package types

import (
	"github.com/fxamacker/cbor/v2"
)

type MsgType uint16

const (
	Msg_Unknown MsgType = iota
	Msg_AvailabilityRequest
	Msg_AvailabilityResponse
)

// Envelope frames a direct message on the wire. Data holds the cbor-encoded
// payload for Type; transport encryption is provided by the channel itself.
type Envelope struct {
	Version uint32
	Type    MsgType
	Data    []byte
}

func (e *Envelope) Serialize() ([]byte, error) {
	return cbor.Marshal(e)
}

func (e *Envelope) Deserialize(b []byte) error {
	return cbor.Unmarshal(b, e)
}

// AvailabilityRequest asks the maker of OfferID whether the offer is still
// takeable at TakersTradePrice. Uid pairs the response with the request.
type AvailabilityRequest struct {
	OfferID          string
	Uid              string
	PubKey           []byte // taker's pub key ring, for the encrypted reply
	TakersTradePrice int64
}

func (m *AvailabilityRequest) Serialize() ([]byte, error) {
	return cbor.Marshal(m)
}

func (m *AvailabilityRequest) Deserialize(b []byte) error {
	return cbor.Unmarshal(b, m)
}

func (m *AvailabilityRequest) Envelope() (*Envelope, error) {
	data, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	return &Envelope{Version: 1, Type: Msg_AvailabilityRequest, Data: data}, nil
}

type AvailabilityResponse struct {
	OfferID string
	Uid     string
	Result  AvailabilityResult
}

func (m *AvailabilityResponse) Serialize() ([]byte, error) {
	return cbor.Marshal(m)
}

func (m *AvailabilityResponse) Deserialize(b []byte) error {
	return cbor.Unmarshal(b, m)
}

func (m *AvailabilityResponse) Envelope() (*Envelope, error) {
	data, err := m.Serialize()
	if err != nil {
		return nil, err
	}
	return &Envelope{Version: 1, Type: Msg_AvailabilityResponse, Data: data}, nil
}
