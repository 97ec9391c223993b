package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func runHandler(t *testing.T, fn gin.HandlerFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	called := false
	engine.GET("/", fn, func(c *gin.Context) { called = true })
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, called)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestFailWithData_MatchesErrorEnvelope(t *testing.T) {
	rec, withData := runHandler(t, func(c *gin.Context) {
		FailWithData(c, http.StatusUnauthorized, 10000001, "Invalid username or password", gin.H{"username": "bob"})
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Invalid username or password", withData["message"])
	require.NotContains(t, withData, "msg")
	require.Equal(t, float64(10000001), withData["code"])
	require.Equal(t, "bob", withData["data"].(map[string]interface{})["username"])

	_, plain := runHandler(t, func(c *gin.Context) {
		ErrorWithStatus(c, http.StatusBadRequest, 10000009, "unknown identity provider")
	})
	require.Equal(t, "unknown identity provider", plain["message"])
	for key := range plain {
		require.Contains(t, withData, key)
	}
}
