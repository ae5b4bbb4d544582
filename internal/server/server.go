package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/observability"
	obscontext "github.com/smallbiznis/ticketpay/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/ticketpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	obstracing "github.com/smallbiznis/ticketpay/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	"github.com/smallbiznis/ticketpay/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
	"github.com/smallbiznis/ticketpay/internal/security"
	"github.com/smallbiznis/ticketpay/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	paymentCfg    config.PaymentConfig
	db            *gorm.DB
	registrations registrationdomain.Service
	payments      paymentdomain.Selector
	receiver      *webhook.Receiver
	gate          *security.Gate
	limiter       *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	PaymentCfg    config.PaymentConfig
	DB            *gorm.DB
	Registrations registrationdomain.Service
	Payments      paymentdomain.Selector
	Receiver      *webhook.Receiver
	Gate          *security.Gate
	Limiter       *ratelimit.Limiter
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		paymentCfg:    p.PaymentCfg,
		db:            p.DB,
		registrations: p.Registrations,
		payments:      p.Payments,
		receiver:      p.Receiver,
		gate:          p.Gate,
		limiter:       p.Limiter,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/health", s.Health)

	v1 := s.engine.Group("/v1")

	registrations := v1.Group("/registrations", s.UserAgentGate())
	registrations.POST("", s.RateLimit(config.CategoryRegistration), s.CreateRegistration)

	session := registrations.Group("/:token", sessionContext())
	session.GET("", s.GetRegistration)
	session.POST("/extend", s.ExtendRegistration)
	session.DELETE("", s.CancelRegistration)
	session.GET("/payment-methods", s.ListPaymentMethods)
	session.POST("/payments", s.RateLimitByMethod(), s.SelectPayment)
	session.POST("/payments/switch", s.RateLimitByMethod(), s.SwitchPayment)

	payments := v1.Group("/payments", s.UserAgentGate())
	payments.GET("/callback", s.RateLimit(config.CategoryCallback), s.PaymentCallback)
	payments.POST("/:invoice_id/confirm", s.RateLimit(config.CategoryPaymentConfirmation), s.ConfirmPayment)
	payments.GET("/:invoice_id/status", s.RateLimit(config.CategoryPaymentStatus), s.PaymentStatus)

	v1.POST("/webhooks/gateway", s.HandleGatewayWebhook)
}

func (s *Server) Health(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionContext puts the registration token on the request context so
// request logs carry its redacted form.
func sessionContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Param("token"))
		if token != "" {
			c.Request = c.Request.WithContext(obscontext.WithSessionToken(c.Request.Context(), token))
		}
		c.Next()
	}
}
