package router

import (
	"context"
	"net/http"

	"medsupply/internal/metrics"
	"medsupply/internal/middleware"
	"medsupply/internal/model"
	"medsupply/internal/realtime"
	"medsupply/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Catalog 商品目录读写。
type Catalog interface {
	Create(ctx context.Context, p *model.Product) error
	List(ctx context.Context) ([]model.Product, error)
}

// Deps 路由依赖。OrderLimiter 为空时下单接口不限流。
type Deps struct {
	Orders       *service.OrderService
	Catalog      Catalog
	Users        middleware.UserResolver
	Hub          *realtime.Hub
	Metrics      *metrics.Registry
	Log          *logrus.Logger
	OrderLimiter gin.HandlerFunc
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	h := &handlers{orders: d.Orders, catalog: d.Catalog, log: d.Log}
	admin := middleware.RequireAdmin()
	hospital := middleware.RequireHospital()

	api := r.Group("/api", middleware.Auth(d.Users))

	// Orders
	place := []gin.HandlerFunc{hospital}
	if d.OrderLimiter != nil {
		place = append(place, d.OrderLimiter)
	}
	api.POST("/orders", append(place, h.placeOrder)...)
	api.GET("/orders/me", hospital, h.listMyOrders)
	api.PATCH("/orders/:orderId/edit", h.editOrder)
	api.POST("/orders/:orderId/reorder", h.reorder)
	api.GET("/orders/suggestions/:productId", h.suggestions)
	api.GET("/orders/admin", admin, h.listAllOrders)
	api.PATCH("/orders/:orderId/status", admin, h.updateStatus)
	api.POST("/orders/:orderId/cancel", admin, h.cancelOrder)
	api.DELETE("/orders/:orderId", admin, h.deleteOrder)

	// Products
	api.GET("/products", h.listProducts)
	api.POST("/products", admin, h.createProduct)

	// Realtime
	api.GET("/events", d.Hub.ServeSSE(roomsOf))
}

// roomsOf 每个连接加入自己的用户房间，再按角色加入 admin / hospitals。
func roomsOf(c *gin.Context) []string {
	u, ok := middleware.Principal(c)
	if !ok {
		return nil
	}
	rooms := []string{u.ID}
	switch u.Role {
	case model.RoleAdmin:
		rooms = append(rooms, realtime.RoomAdmin)
	case model.RoleHospital:
		rooms = append(rooms, realtime.RoomHospitals)
	}
	return rooms
}
