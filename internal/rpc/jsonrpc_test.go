package rpc

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/accountant/internal/accountant"
)

func TestWriteErrorCarriesStableCodeInData(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, json.RawMessage(`1`), accountant.ErrNoSuchUser)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, "no_such_user", resp.Error.Data)
	require.Equal(t, codeAccountantErr, resp.Error.Code)
}

func TestWriteErrorOnPlainErrorLeavesDataEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, json.RawMessage(`1`), errors.New("boom"))

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Empty(t, resp.Error.Data)
}

func TestWriteResultEchoesID(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResult(rec, json.RawMessage(`"abc"`), map[string]int{"ok": 1})

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.JSONEq(t, `"abc"`, string(resp.ID))
	require.Nil(t, resp.Error)
}

func TestWriteProtocolError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeProtocolError(rec, nil, codeParseError, "invalid JSON")

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, codeParseError, resp.Error.Code)
}
