package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railzwaylabs/paygate/internal/config"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(registerHTTPServer),
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Gateway  domain.Gateway
	Registry *prometheus.Registry
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	gateway  domain.Gateway
	registry *prometheus.Registry
	engine   *gin.Engine
}

func NewServer(p Params) *Server {
	if p.Cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      p.Cfg,
		log:      p.Log.Named("server"),
		gateway:  p.Gateway,
		registry: p.Registry,
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.RegisterRoutes(s.engine)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", s.Healthz)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	webhooks := r.Group("/webhooks")
	webhooks.GET("/events/:id", s.GetWebhookEvent)
	webhooks.POST("/:provider", s.ReceiveWebhook)

	api := r.Group("/api")
	api.POST("/customers", s.CreateCustomer)
	api.DELETE("/customers/:id", s.DeleteCustomer)
	api.POST("/checkout/sessions", s.CreateCheckoutSession)
	api.POST("/payment_intents/:id/cancel", s.CancelPaymentIntent)
	api.POST("/subscriptions", s.CreateSubscription)
	api.PATCH("/subscriptions/:id", s.UpdateSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/refunds", s.CreateRefund)
	api.POST("/usage", s.IngestUsage)
	api.GET("/providers", s.ListProviders)
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Error(c.Errors.Last().Err))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			s.log.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			s.log.Info("request rejected", fields...)
		default:
			s.log.Debug("request served", fields...)
		}
	}
}

func registerHTTPServer(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
