package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/storefront/internal/authorization"
	checkoutdomain "github.com/smallbiznis/storefront/internal/checkout/domain"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/events"
	"github.com/smallbiznis/storefront/internal/observability"
	obslogger "github.com/smallbiznis/storefront/internal/observability/logger"
	obstracing "github.com/smallbiznis/storefront/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(func(s *scheduler.Scheduler) JobRunner { return s }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// JobRunner runs reconciliation jobs on demand.
type JobRunner interface {
	Run(ctx context.Context, names ...string) ([]scheduler.Summary, error)
}

func NewEngine(debug bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.DebugLogging() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg.DebugLogging())
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
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
	engine      *gin.Engine
	log         *zap.Logger
	authzSvc    authorization.Service
	checkoutSvc checkoutdomain.Service
	orderSvc    orderdomain.Service
	refundSvc   paymentdomain.RefundService
	webhookSvc  paymentdomain.WebhookService
	jobs        JobRunner
	hub         *events.Hub
	limiter     *ratelimit.CheckoutLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Log         *zap.Logger
	AuthzSvc    authorization.Service
	CheckoutSvc checkoutdomain.Service
	OrderSvc    orderdomain.Service
	RefundSvc   paymentdomain.RefundService
	WebhookSvc  paymentdomain.WebhookService
	Jobs        JobRunner
	Hub         *events.Hub                `optional:"true"`
	Limiter     *ratelimit.CheckoutLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		log:         p.Log.Named("http"),
		authzSvc:    p.AuthzSvc,
		checkoutSvc: p.CheckoutSvc,
		orderSvc:    p.OrderSvc,
		refundSvc:   p.RefundSvc,
		webhookSvc:  p.WebhookSvc,
		jobs:        p.Jobs,
		hub:         p.Hub,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/checkout", s.CheckoutRateLimit(), s.PlaceOrder)
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks/:provider")

	webhooks.POST("/invoice", s.HandlePaymentWebhook)
	webhooks.POST("/refund", s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.APIKeyRequired())

	admin.GET("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionOrderView), s.GetOrder)
	admin.POST("/orders/:id/transition", s.authorize(authorization.ObjectOrder, authorization.ActionOrderTransition), s.TransitionOrder)

	admin.POST("/refunds/:id/approve", s.authorize(authorization.ObjectRefund, authorization.ActionRefundApprove), s.ApproveRefund)
	admin.POST("/refunds/:id/reject", s.authorize(authorization.ObjectRefund, authorization.ActionRefundReject), s.RejectRefund)

	admin.POST("/jobs/:name/run", s.authorize(authorization.ObjectJob, authorization.ActionJobRun), s.RunJob)

	admin.GET("/events/stream", s.authorize(authorization.ObjectEventStream, authorization.ActionEventStreamView), s.StreamEvents)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
