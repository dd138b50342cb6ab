package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/domain/service"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/interfaces/api/middleware"
	"ordermesh/pkg/apiserver/utils/bcode"
)

type fakeOrderService struct {
	accepted []service.OrderSpec
	state    *statestore.WorkflowState
	err      error
}

func (f *fakeOrderService) AcceptOrder(_ context.Context, order service.OrderSpec) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.accepted = append(f.accepted, order)
	return "corr-1", nil
}

func (f *fakeOrderService) OrderStatus(_ context.Context, correlationID string) (*statestore.WorkflowState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func newOrdersRouter(svc service.OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	handler := &orders{OrderService: svc, Verifier: middleware.PlainTokenVerifier{}}
	handler.RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer user-1")
	return req
}

func TestCreateOrderAccepted(t *testing.T) {
	svc := &fakeOrderService{}
	router := newOrdersRouter(svc)

	body := `{"customerId":"cust-1","items":[{"productId":"prod-1","quantity":2}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/orders", body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "corr-1", resp["correlationId"])
	require.Len(t, svc.accepted, 1)
	require.Equal(t, "cust-1", svc.accepted[0].CustomerID)
}

func TestCreateOrderRejectsBadPayloads(t *testing.T) {
	svc := &fakeOrderService{}
	router := newOrdersRouter(svc)

	for name, body := range map[string]string{
		"not json":      `{broken`,
		"no items":      `{"customerId":"cust-1","items":[]}`,
		"no customer":   `{"items":[{"productId":"p","quantity":1}]}`,
		"zero quantity": `{"customerId":"c","items":[{"productId":"p","quantity":0}]}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/orders", body))
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	require.Empty(t, svc.accepted, "invalid requests must never reach the service")
}

func TestCreateOrderServiceUnavailable(t *testing.T) {
	router := newOrdersRouter(&fakeOrderService{err: bcode.ErrOrderAccept})

	rec := httptest.NewRecorder()
	body := `{"customerId":"c","items":[{"productId":"p","quantity":1}]}`
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/orders", body))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrderStatusFound(t *testing.T) {
	router := newOrdersRouter(&fakeOrderService{
		state: &statestore.WorkflowState{Status: config.StatusCompleted, OrderID: 1001},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/orders/c1/status", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "c1", resp["correlationId"])
	require.Equal(t, config.StatusCompleted, resp["status"])
	require.EqualValues(t, 1001, resp["orderId"])
}

func TestOrderStatusUnknown(t *testing.T) {
	router := newOrdersRouter(&fakeOrderService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/orders/missing/status", ""))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrdersRequireAuthentication(t *testing.T) {
	svc := &fakeOrderService{}
	router := newOrdersRouter(svc)

	rec := httptest.NewRecorder()
	body := `{"customerId":"c","items":[{"productId":"p","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, svc.accepted)
}
