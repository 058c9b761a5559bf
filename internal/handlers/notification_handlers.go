package handlers

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/services"
)

// RelayTokenHeader carries the shared secret between the relay consumer and
// the applier endpoint.
const RelayTokenHeader = "X-Relay-Token"

// SignatureVerifier checks a gateway notification signature
type SignatureVerifier interface {
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

type NotificationHandler struct {
	queue      Enqueuer
	applier    NotificationApplier
	verifier   SignatureVerifier
	relayToken string
	bodyLimit  int64
	log        *logrus.Logger
}

type NotificationHandlerConfig struct {
	Queue   Enqueuer
	Applier NotificationApplier
	// Verifier is optional. When set, ingress rejects notifications whose
	// signature does not match.
	Verifier   SignatureVerifier
	RelayToken string
	BodyLimit  int64
	Log        *logrus.Logger
}

func NewNotificationHandler(cfg NotificationHandlerConfig) *NotificationHandler {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 64 << 10
	}
	return &NotificationHandler{
		queue:      cfg.Queue,
		applier:    cfg.Applier,
		verifier:   cfg.Verifier,
		relayToken: cfg.RelayToken,
		bodyLimit:  cfg.BodyLimit,
		log:        cfg.Log,
	}
}

// Ingress receives the gateway webhook and enqueues the body unchanged. The
// gateway gets 200 only once the job is stored, so it redelivers anything
// that was not.
func (h *NotificationHandler) Ingress(c echo.Context) error {
	body, err := h.readBody(c)
	if err != nil {
		return err
	}

	if h.verifier != nil {
		n, err := services.ParseNotification(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed notification")
		}
		if !h.verifier.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
			h.log.WithField("order_id", n.OrderID).Warn("notification signature mismatch")
			return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
		}
	}

	job, err := h.queue.Enqueue(c.Request().Context(), body)
	if err != nil {
		h.log.WithError(err).Error("enqueue notification")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "try again later")
	}

	h.log.WithField("job_id", job.ID).Debug("notification queued")
	return c.JSON(http.StatusOK, map[string]string{"status": "queued"})
}

// Handling applies one relayed notification. 2xx and 4xx answers are final
// for the relay queue; 5xx answers are retried.
func (h *NotificationHandler) Handling(c echo.Context) error {
	if h.relayToken != "" {
		got := c.Request().Header.Get(RelayTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.relayToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid relay token")
		}
	}

	body, err := h.readBody(c)
	if err != nil {
		return err
	}

	result, err := h.applier.Apply(c.Request().Context(), body)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"order_id":   result.Order.GatewayOrderID,
		"transition": result.Transition,
	})
}

func (h *NotificationHandler) readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.bodyLimit+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if int64(len(body)) > h.bodyLimit {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}
	if len(body) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "empty body")
	}
	return body, nil
}

var errNoRealtime = echo.NewHTTPError(http.StatusServiceUnavailable, "realtime notifications are not configured")

// AccountHandler serves the signed-in user's profile
type AccountHandler struct {
	accounts Accounts
	realtime TopicSubscriber
}

func NewAccountHandler(accounts Accounts, realtime TopicSubscriber) *AccountHandler {
	return &AccountHandler{accounts: accounts, realtime: realtime}
}

func (h *AccountHandler) Profile(c echo.Context) error {
	profile, err := h.accounts.Profile(c.Request().Context(), getUintFromContext(c, "userID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}

type subscribeRequest struct {
	Token string `json:"token"`
}

// SubscribeRealtime registers a device token for the caller's order events
func (h *AccountHandler) SubscribeRealtime(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	userID := getUintFromContext(c, "userID")
	if err := h.realtime.Subscribe(c.Request().Context(), userID, req.Token); err != nil {
		if errors.Is(err, services.ErrRealtimeDisabled) {
			return errNoRealtime
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "subscribed",
		"topic":  services.UserTopic(userID),
	})
}
