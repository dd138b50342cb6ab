package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"ordermesh/pkg/apiserver/domain/service"
	apisv1 "ordermesh/pkg/apiserver/interfaces/api/dto/v1"
	"ordermesh/pkg/apiserver/interfaces/api/middleware"
	"ordermesh/pkg/apiserver/utils/bcode"
)

var validate = validator.New()

type orders struct {
	OrderService service.OrderService     `inject:""`
	Verifier     middleware.TokenVerifier `inject:""`
}

// NewOrders new orders manage
func NewOrders() Interface {
	return &orders{}
}

func (o *orders) RegisterRoutes(group *gin.RouterGroup) {
	authed := group.Group("", middleware.Authenticated(o.Verifier))
	authed.POST("/orders", o.createOrder)
	authed.GET("/orders/:correlationId/status", o.orderStatus)
}

// createOrder accepts an order for asynchronous processing and replies 202
// with the correlation id before any persistence happens.
func (o *orders) createOrder(c *gin.Context) {
	var req apisv1.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bcode.ReturnError(c, bcode.ErrOrderRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		bcode.ReturnError(c, bcode.ErrOrderRequest)
		return
	}
	spec := service.OrderSpec{CustomerID: req.CustomerID}
	for _, item := range req.Items {
		spec.Items = append(spec.Items, service.OrderItemSpec{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	correlationID, err := o.OrderService.AcceptOrder(c.Request.Context(), spec)
	if err != nil {
		bcode.ReturnError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, apisv1.CreateOrderResponse{CorrelationID: correlationID})
}

// orderStatus reads the transient workflow state for a correlation id.
func (o *orders) orderStatus(c *gin.Context) {
	correlationID := c.Param("correlationId")
	state, err := o.OrderService.OrderStatus(c.Request.Context(), correlationID)
	if err != nil {
		bcode.ReturnError(c, err)
		return
	}
	if state == nil {
		bcode.ReturnError(c, bcode.ErrWorkflowStateNotFound)
		return
	}
	c.JSON(http.StatusOK, apisv1.OrderStatusResponse{
		CorrelationID: correlationID,
		Status:        state.Status,
		OrderID:       state.OrderID,
	})
}
