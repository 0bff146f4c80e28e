package probe

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/tgwire/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const adminNode = "tgprobe"

// Admin serves health, metrics and the latest probe results over HTTP.
type Admin struct {
	prober  *Prober
	router  *gin.Engine
	started time.Time
}

func NewAdmin(p *Prober, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(adminNode))
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{prober: p, router: r, started: time.Now()}
	a.routes()
	return a
}

func (a *Admin) Handler() http.Handler { return a.router }

func (a *Admin) routes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"service": adminNode,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		results := a.prober.Results()
		ready := false
		for _, res := range results {
			if res.OK {
				ready = true
				break
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"probes": len(results),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/probes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"probes": a.prober.Results()})
	})

	a.router.GET("/probes/:dc", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("dc"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dc must be an integer"})
			return
		}
		res, ok := a.prober.Last(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no probe recorded"})
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("probe.Admin listening addr=%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
