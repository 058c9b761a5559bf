package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/models"
	"cirsqu_api/internal/services"
)

// OrderHandler serves the signed-in user's orders
type OrderHandler struct {
	orders OrderManager
}

func NewOrderHandler(orders OrderManager) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// List returns the caller's orders, newest first
func (h *OrderHandler) List(c echo.Context) error {
	orders, err := h.orders.ListForUser(c.Request().Context(), getUintFromContext(c, "userID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	order, err := h.orders.GetForUser(c.Request().Context(), id, getUintFromContext(c, "userID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) Cancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	order, err := h.orders.Cancel(c.Request().Context(), id, getUintFromContext(c, "userID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// Checkout charges the price tier with the chosen payment type. The response
// carries the gateway's charge, which holds the payment instructions.
func (h *OrderHandler) Checkout(c echo.Context) error {
	priceID, err := parseID(c, "priceId")
	if err != nil {
		return err
	}

	order, err := h.orders.Checkout(c.Request().Context(), services.CheckoutInput{
		UserID:      getUintFromContext(c, "userID"),
		PriceID:     priceID,
		PaymentType: models.PaymentType(c.Param("paymentType")),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}

// AdminOrderHandler serves order management for admins
type AdminOrderHandler struct {
	orders OrderAdmin
}

func NewAdminOrderHandler(orders OrderAdmin) *AdminOrderHandler {
	return &AdminOrderHandler{orders: orders}
}

func (h *AdminOrderHandler) List(c echo.Context) error {
	orders, err := h.orders.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *AdminOrderHandler) ListByUser(c echo.Context) error {
	userID, err := parseID(c, "userId")
	if err != nil {
		return err
	}
	orders, err := h.orders.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orders)
}

func (h *AdminOrderHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	order, err := h.orders.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// Cancel asks the gateway to cancel a pending order. The order's status
// changes when the gateway's notification arrives.
func (h *AdminOrderHandler) Cancel(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	order, err := h.orders.AdminCancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *AdminOrderHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.orders.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
