package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseWireShape(t *testing.T) {
	buf, err := json.Marshal(OK("sector.scan.v1", map[string]any{"sector_id": 7}))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf, &m))
	require.Equal(t, "ok", m["status"])
	require.Equal(t, "sector.scan.v1", m["type"])
	require.NotContains(t, m, "error")
	require.NotContains(t, m, "request_id")
}

func TestErrorfCarriesCodeAndMessage(t *testing.T) {
	resp := Errorf(ErrUnknownCommand, "unknown command %q", "warp.me")
	require.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	require.Equal(t, ErrUnknownCommand, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "warp.me")
}

func TestRefusalEnvelope(t *testing.T) {
	r := Refuse(RefInsufficientStock, "planet lacks construction materials").
		WithMeta(map[string]any{"missing": map[string]any{"ore": 300}})
	require.Equal(t, "planet lacks construction materials", r.Error())

	resp := r.Envelope()
	require.Equal(t, StatusRefused, resp.Status)
	require.Equal(t, RefInsufficientStock, resp.Error.Code)
	require.Equal(t, map[string]any{"ore": 300}, resp.Error.Meta["missing"])
}

func TestDecodeDataDefaultsEmptyPayload(t *testing.T) {
	var in struct {
		Limit int64 `json:"limit"`
	}
	req := &Request{Command: "news.recent"}
	require.NoError(t, DecodeData(req, &in))
	require.Zero(t, in.Limit)
}

func TestDecodeDataValidates(t *testing.T) {
	var in struct {
		Name string `json:"name" validate:"required,min=2"`
	}
	req := &Request{Command: "auth.register", Data: json.RawMessage(`{"name":"x"}`)}
	err := DecodeData(req, &in)
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.register")

	req.Data = json.RawMessage(`{"name":`)
	require.Error(t, DecodeData(req, &in))

	req.Data = json.RawMessage(`{"name":"Trillian"}`)
	require.NoError(t, DecodeData(req, &in))
	require.Equal(t, "Trillian", in.Name)
}
