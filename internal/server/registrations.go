package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/ticketpay/internal/money"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
)

type createRegistrationRequest struct {
	EventID  string                           `json:"event_id"`
	Attendee registrationdomain.Attendee      `json:"attendee"`
	Items    []registrationdomain.ItemRequest `json:"items"`
}

type registrationResponse struct {
	*registrationdomain.Session
	TotalFormatted string `json:"total_formatted"`
}

func newRegistrationResponse(session *registrationdomain.Session) registrationResponse {
	return registrationResponse{
		Session:        session,
		TotalFormatted: money.Format(session.Total, session.Currency),
	}
}

func (s *Server) CreateRegistration(c *gin.Context) {
	var req createRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	eventID, err := snowflake.ParseString(strings.TrimSpace(req.EventID))
	if err != nil || eventID == 0 {
		AbortWithError(c, newValidationError("event_id", "invalid_event_id", "invalid event id"))
		return
	}

	session, err := s.registrations.Create(c.Request.Context(), registrationdomain.CreateRequest{
		EventID:  eventID,
		Attendee: req.Attendee,
		Items:    req.Items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newRegistrationResponse(session))
}

func (s *Server) GetRegistration(c *gin.Context) {
	session, err := s.registrations.Read(c.Request.Context(), c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRegistrationResponse(session))
}

func (s *Server) ExtendRegistration(c *gin.Context) {
	session, err := s.registrations.Extend(c.Request.Context(), c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRegistrationResponse(session))
}

// CancelRegistration cancels any in-flight payment and destroys the session.
func (s *Server) CancelRegistration(c *gin.Context) {
	if err := s.payments.Cancel(c.Request.Context(), c.Param("token")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := s.registrations.Read(ctx, c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	amount := money.FromMinor(session.Total, session.Currency)
	methods, err := s.payments.ListAvailableMethods(ctx, session.EventID, amount, session.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount":   amount.StringFixed(money.Exponent(session.Currency)),
		"currency": session.Currency,
		"methods":  methods,
	})
}
