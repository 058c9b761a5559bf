package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cirsqu_api/internal/services"
)

type PriceHandler struct {
	prices PriceCatalog
}

func NewPriceHandler(prices PriceCatalog) *PriceHandler {
	return &PriceHandler{prices: prices}
}

func (h *PriceHandler) List(c echo.Context) error {
	prices, err := h.prices.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prices)
}

func (h *PriceHandler) GetBySlug(c echo.Context) error {
	price, err := h.prices.GetBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, price)
}

// Update replaces a price tier. Field validation failures answer 422.
func (h *PriceHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var in services.PriceInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	price, err := h.prices.Update(c.Request().Context(), id, in)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, price)
}
