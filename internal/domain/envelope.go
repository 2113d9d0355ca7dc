package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Envelope is a validated inbound response. Only ParseEnvelope produces
// one, so downstream stages never see an unchecked payload.
type Envelope struct {
	Topic        string
	MessageID    string
	SessionID    string
	Operation    OperationKind
	Responder    AssetKey
	Result       ResultCode
	ErrorCode    string
	ErrorMessage string
	LogRef       string
}

// Rejection explains why a message was not accepted as a response.
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("response rejected: %s: %v", r.Reason, r.Err)
	}
	return "response rejected: " + r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// IsRejection reports whether err came from envelope parsing.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

type envelopeWire struct {
	MessageID    string  `json:"message_id"`
	SessionID    string  `json:"session_id"`
	Operation    string  `json:"operation"`
	TypeID       string  `json:"type_id"`
	AssetID      string  `json:"asset_id"`
	Result       string  `json:"result"`
	ErrorCode    *string `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	LogRef       string  `json:"log_ref"`
}

func operationValues() []interface{} {
	out := make([]interface{}, 0, len(OperationKinds))
	for _, k := range OperationKinds {
		out = append(out, string(k))
	}
	return out
}

// ParseEnvelope decodes and validates an inbound message. Any shape problem
// yields a *Rejection.
func ParseEnvelope(msg InboundMessage) (Envelope, error) {
	if len(msg.Payload) == 0 {
		return Envelope{}, &Rejection{Reason: "empty payload"}
	}

	var w envelopeWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		return Envelope{}, &Rejection{Reason: "malformed json", Err: err}
	}

	err := validation.ValidateStruct(&w,
		validation.Field(&w.MessageID, validation.Required, validation.Length(1, 64)),
		validation.Field(&w.Operation, validation.Required, validation.In(operationValues()...)),
		validation.Field(&w.TypeID, validation.Required, validation.Length(1, 64)),
		validation.Field(&w.AssetID, validation.Required, validation.Length(1, 128)),
		validation.Field(&w.Result, validation.Required,
			validation.In(string(ResultSucceed), string(ResultError), string(ResultAccepted))),
		validation.Field(&w.LogRef, validation.When(
			w.Operation == string(OperationRetrieveLog) && w.Result == string(ResultSucceed),
			validation.Required,
		)),
	)
	if err != nil {
		return Envelope{}, &Rejection{Reason: "invalid payload shape", Err: err}
	}

	env := Envelope{
		Topic:     msg.Topic,
		MessageID: w.MessageID,
		SessionID: w.SessionID,
		Operation: OperationKind(w.Operation),
		Responder: AssetKey{TypeID: w.TypeID, AssetID: w.AssetID},
		Result:    ResultCode(w.Result),
		LogRef:    w.LogRef,
	}
	if w.ErrorCode != nil {
		env.ErrorCode = *w.ErrorCode
	}
	if w.ErrorMessage != nil {
		env.ErrorMessage = *w.ErrorMessage
	}
	return env, nil
}
