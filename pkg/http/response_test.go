package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAppErrorResponsePlainErrorIs500(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, AppErrorResponse(c, errors.New("db down")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusInternalServerError, body.Status)
	assert.Equal(t, "Something went wrong", body.Data)
}

func TestAppErrorResponseUsesAppErrorStatus(t *testing.T) {
	c, rec := newContext()
	err := NotFoundErrorf("no decision for %s", "INFY")
	require.NoError(t, AppErrorResponse(c, err))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body APIResponse500Err
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_NOT_FOUND", body.Data[0].Code)
	assert.Equal(t, "no decision for INFY", body.Data[0].Message)
}
