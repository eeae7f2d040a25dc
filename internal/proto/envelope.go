// Package proto defines the line-framed JSON envelope spoken on the client
// port: one request object per line in, one response object per line out.
package proto

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusRefused = "refused"
)

type Request struct {
	Command        string          `json:"command" validate:"required"`
	RequestID      string          `json:"request_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type ErrorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type Response struct {
	Status    string     `json:"status"`
	Type      string     `json:"type,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

func OK(typ string, data any) *Response {
	return &Response{Status: StatusOK, Type: typ, Data: data}
}

func Errorf(code int, format string, args ...any) *Response {
	return &Response{Status: StatusError, Error: &ErrorBody{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func Refusef(code int, format string, args ...any) *Response {
	return &Response{Status: StatusRefused, Error: &ErrorBody{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// Refusal is the error form of a policy rejection. Handlers return it up the
// stack; the dispatcher turns it into a refused envelope.
type Refusal struct {
	Code    int
	Message string
	Meta    map[string]any
}

func (r *Refusal) Error() string { return r.Message }

func Refuse(code int, format string, args ...any) *Refusal {
	return &Refusal{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (r *Refusal) WithMeta(meta map[string]any) *Refusal {
	r.Meta = meta
	return r
}

func (r *Refusal) Envelope() *Response {
	return &Response{Status: StatusRefused, Error: &ErrorBody{Code: r.Code, Message: r.Message, Meta: r.Meta}}
}

var validate = validator.New()

// DecodeData unmarshals a request's data payload into v and runs its
// validate tags. Any failure maps to ERR_SERIALIZATION.
func DecodeData(req *Request, v any) error {
	raw := req.Data
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s data: %w", req.Command, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate %s data: %w", req.Command, err)
	}
	return nil
}
