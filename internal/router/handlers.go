package router

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"medsupply/internal/middleware"
	"medsupply/internal/model"
	"medsupply/internal/pricing"
	"medsupply/internal/repository"
	"medsupply/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type handlers struct {
	orders  *service.OrderService
	catalog Catalog
	log     *logrus.Logger
}

// placeOrder 医院下单。
func (h *handlers) placeOrder(c *gin.Context) {
	var req struct {
		Items        []pricing.Line `json:"items"`
		Address      string         `json:"address"`
		Phone        string         `json:"phone"`
		AltPhone     string         `json:"alt_phone"`
		ContactEmail string         `json:"contact_email"`
		Notes        string         `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.Principal(c)
	o, err := h.orders.PlaceOrder(c.Request.Context(), u, service.PlaceInput{
		Items:        req.Items,
		Address:      req.Address,
		Phone:        req.Phone,
		AltPhone:     req.AltPhone,
		ContactEmail: req.ContactEmail,
		Notes:        req.Notes,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusCreated, o)
}

func (h *handlers) listMyOrders(c *gin.Context) {
	u, _ := middleware.Principal(c)
	list, err := h.orders.ListMyOrders(c.Request.Context(), u.ID, repository.OrderFilter{
		Status: model.OrderStatus(c.Query("status")),
		Search: c.Query("search"),
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (h *handlers) editOrder(c *gin.Context) {
	var req struct {
		Items    []pricing.Line `json:"items"`
		Address  *string        `json:"address"`
		Phone    *string        `json:"phone"`
		AltPhone *string        `json:"alt_phone"`
		Notes    *string        `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.Principal(c)
	o, err := h.orders.EditOrder(c.Request.Context(), c.Param("orderId"), u, service.EditPatch{
		Items:    req.Items,
		Address:  req.Address,
		Phone:    req.Phone,
		AltPhone: req.AltPhone,
		Notes:    req.Notes,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// reorder body 可省略，省略时沿用原订单的联系信息。
func (h *handlers) reorder(c *gin.Context) {
	var req struct {
		Address      string `json:"address"`
		Phone        string `json:"phone"`
		AltPhone     string `json:"alt_phone"`
		ContactEmail string `json:"contact_email"`
		Notes        string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.Principal(c)
	o, err := h.orders.Reorder(c.Request.Context(), c.Param("orderId"), u, service.ReorderOverrides{
		Address:      req.Address,
		Phone:        req.Phone,
		AltPhone:     req.AltPhone,
		ContactEmail: req.ContactEmail,
		Notes:        req.Notes,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusCreated, o)
}

func (h *handlers) suggestions(c *gin.Context) {
	list, err := h.orders.SuggestedProducts(c.Request.Context(), c.Param("productId"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (h *handlers) listAllOrders(c *gin.Context) {
	list, err := h.orders.ListAllOrders(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (h *handlers) updateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	u, _ := middleware.Principal(c)
	o, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("orderId"), u, model.OrderStatus(req.Status))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, o)
}

func (h *handlers) cancelOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.Principal(c)
	o, err := h.orders.CancelOrder(c.Request.Context(), c.Param("orderId"), u, req.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, o)
}

func (h *handlers) deleteOrder(c *gin.Context) {
	id, err := h.orders.DeleteOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"orderId": id})
}

func (h *handlers) listProducts(c *gin.Context) {
	list, err := h.catalog.List(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// createProduct 管理员新增目录项。
func (h *handlers) createProduct(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
		Quantity    int64  `json:"quantity" binding:"min=0"`
		Price       int64  `json:"price" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(c, "name is required")
		return
	}
	u, _ := middleware.Principal(c)
	p := &model.Product{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Quantity:    req.Quantity,
		Price:       req.Price,
		CreatedBy:   u.ID,
	}
	if err := h.catalog.Create(c.Request.Context(), p); err != nil {
		fail(c, h.log, err)
		return
	}
	ok(c, http.StatusCreated, p)
}
