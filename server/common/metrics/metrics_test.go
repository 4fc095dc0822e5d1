package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("halo_test")
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/rooms/:roomId", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, id := range []string{"r1", "r2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rooms/"+id, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/rooms/:roomId", "GET", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "GET", "404")))
}

func TestTrackSubscription(t *testing.T) {
	m := New("halo_test")
	done := m.TrackSubscription("rooms")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("rooms")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("rooms")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New("halo_test")
	m.TrackSubscription("users")
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `halo_test_live_subscriptions{kind="users"} 1`)
}
