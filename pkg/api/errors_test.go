package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/claude-mem/worker/pkg/store"
)

func newTestGinContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/whatever", nil)
	return c, rec
}

func TestRespondErrorMapsNotFound(t *testing.T) {
	c, rec := newTestGinContext()
	respondError(c, fmt.Errorf("wrap: %w", store.ErrNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondErrorMapsDuplicatePrompt(t *testing.T) {
	c, rec := newTestGinContext()
	respondError(c, fmt.Errorf("wrap: %w", store.ErrDuplicatePrompt))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondErrorDefaultsTo500(t *testing.T) {
	c, rec := newTestGinContext()
	respondError(c, fmt.Errorf("something unexpected broke"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
