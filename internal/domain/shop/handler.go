package shop

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pouchrx/pouchrx/internal/platform/auth"
	"github.com/pouchrx/pouchrx/pkg/pagination"
)

const (
	SessionCookie = "pouchrx_session"
	SessionHeader = "X-Session-ID"
)

type Handler struct {
	svc    *Service
	secure bool
}

// NewHandler builds the shop routes. secure marks the session cookie Secure.
func NewHandler(svc *Service, secure bool) *Handler {
	return &Handler{svc: svc, secure: secure}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/shop/catalog", h.Catalog)
	api.GET("/shop/allowance", h.Allowance)
	api.GET("/shop/cart", h.GetCart)
	api.POST("/shop/cart/items", h.AddItem)
	api.PUT("/shop/cart/items/:variant", h.UpdateItem)
	api.DELETE("/shop/cart/items/:variant", h.RemoveItem)
	api.DELETE("/shop/cart", h.ClearCart)
	api.GET("/shop/shipping/quote", h.Quote)
	api.GET("/shop/shipping-address", h.GetShippingAddress)
	api.PUT("/shop/shipping-address", h.SaveShippingAddress)
	api.DELETE("/shop/shipping-address", h.ClearShippingAddress)
	api.POST("/shop/checkout", h.Checkout)
	api.GET("/shop/orders", h.ListOrders)
	api.GET("/shop/orders/:id", h.GetOrder)
	api.POST("/session/sign-out", h.SignOut)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PATCH("/shop/orders/:id/status", h.UpdateOrderStatus)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownVariant), errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrMissingSession):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// session returns the cart session for the request, issuing a cookie when
// the client has none.
func (h *Handler) session(c echo.Context) string {
	if ck, err := c.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	if v := c.Request().Header.Get(SessionHeader); v != "" {
		return v
	}
	id := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(DefaultSnapshotTTL / time.Second),
	})
	c.Response().Header().Set(SessionHeader, id)
	return id
}

func cartResponse(c echo.Context, res CartResult) error {
	if !res.Decision.Allowed {
		return c.JSON(http.StatusConflict, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Catalog(c echo.Context) error {
	return c.JSON(http.StatusOK, Catalog())
}

func (h *Handler) Allowance(c echo.Context) error {
	snap, err := h.svc.Allowance(c.Request().Context(), h.session(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetCart(c echo.Context) error {
	cart, err := h.svc.Cart(c.Request().Context(), h.session(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cart)
}

type itemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) AddItem(c echo.Context) error {
	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Add(c.Request().Context(), h.session(c), req.VariantID, req.Quantity)
	if err != nil {
		return httpError(err)
	}
	return cartResponse(c, res)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.UpdateQuantity(c.Request().Context(), h.session(c), c.Param("variant"), req.Quantity)
	if err != nil {
		return httpError(err)
	}
	return cartResponse(c, res)
}

func (h *Handler) RemoveItem(c echo.Context) error {
	cart, err := h.svc.Remove(c.Request().Context(), h.session(c), c.Param("variant"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) ClearCart(c echo.Context) error {
	cart, err := h.svc.Clear(c.Request().Context(), h.session(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cart)
}

func (h *Handler) Quote(c echo.Context) error {
	options, err := h.svc.Quote(c.Request().Context(), h.session(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, options)
}

func (h *Handler) GetShippingAddress(c echo.Context) error {
	a, err := h.svc.ShippingAddress(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if a == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SaveShippingAddress(c echo.Context) error {
	var a Address
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.svc.SaveShippingAddress(c.Request().Context(), a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) ClearShippingAddress(c echo.Context) error {
	if err := h.svc.ClearShippingAddress(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Checkout(c echo.Context) error {
	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Checkout(c.Request().Context(), h.session(c), req)
	if err != nil {
		return httpError(err)
	}
	if !res.Decision.Allowed {
		return c.JSON(http.StatusConflict, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOrders(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

type statusRequest struct {
	Status OrderStatus `json:"status"`
}

func (h *Handler) UpdateOrderStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.UpdateOrderStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) SignOut(c echo.Context) error {
	if err := h.svc.SignOut(c.Request().Context(), h.session(c)); err != nil {
		return httpError(err)
	}
	c.SetCookie(&http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.secure})
	return c.NoContent(http.StatusNoContent)
}
