package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
)

func (s *Server) SelectPayment(c *gin.Context) {
	initiation, err := s.payments.Select(c.Request.Context(), c.Param("token"), paymentMethodFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, initiation)
}

func (s *Server) SwitchPayment(c *gin.Context) {
	initiation, err := s.payments.Switch(c.Request.Context(), c.Param("token"), paymentMethodFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, initiation)
}

// PaymentCallback is where the gateway sends the visitor back after card
// checkout. The status is re-checked with the gateway, never read from the
// query string.
func (s *Server) PaymentCallback(c *gin.Context) {
	invoiceID := strings.TrimSpace(c.Query("invoice_id"))
	if invoiceID == "" {
		AbortWithError(c, newValidationError("invoice_id", "required", "invoice_id is required"))
		return
	}

	view, err := s.payments.Confirm(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	target := s.callbackTarget(view)
	if target == "" {
		c.JSON(http.StatusOK, view)
		return
	}
	c.Redirect(http.StatusSeeOther, target)
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	view, err := s.payments.Confirm(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) PaymentStatus(c *gin.Context) {
	view, err := s.payments.Status(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) callbackTarget(view *paymentdomain.StatusView) string {
	gw := s.paymentCfg.Gateway
	var base string
	switch view.Status {
	case paymentdomain.StatusSucceeded:
		base = gw.SuccessURL
	case paymentdomain.StatusFailed, paymentdomain.StatusExpired, paymentdomain.StatusCancelled:
		base = gw.FailureURL
	default:
		base = gw.PendingURL
	}
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	target, err := url.Parse(base)
	if err != nil {
		return ""
	}
	query := target.Query()
	query.Set("invoice_id", view.InvoiceID)
	query.Set("status", string(view.Status))
	target.RawQuery = query.Encode()
	return target.String()
}
