package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vultisig/payroll/internal/validator"
	"github.com/vultisig/payroll/plugin/payroll"
	"github.com/vultisig/payroll/service"
)

const loggerKey = "logger"

type Server struct {
	cfg      ServerConfig
	plugin   *payroll.PluginConfig
	payroll  *service.PayrollService
	sdClient statsd.ClientInterface
	logger   logrus.FieldLogger
	echo     *echo.Echo
}

// NewServer returns a new server.
func NewServer(
	cfg ServerConfig,
	pluginConfig *payroll.PluginConfig,
	payrollService *service.PayrollService,
	sdClient statsd.ClientInterface,
	logger logrus.FieldLogger,
) *Server {
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		plugin:   pluginConfig,
		payroll:  payrollService,
		sdClient: sdClient,
		logger:   logger.WithField("service", "api"),
	}
	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(s.cfg.BodyLimit))
	e.Use(s.statsdMiddleware)
	e.Use(s.requestLogger)
	e.Use(middleware.CORS())
	limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(s.cfg.RateLimit.Rate),
			Burst:     s.cfg.RateLimit.Burst,
			ExpiresIn: s.cfg.RateLimit.ExpiresIn,
		},
	)
	e.Use(middleware.RateLimiter(limiterStore))

	e.Validator = validator.New()

	e.GET("/ping", s.Ping)

	grp := e.Group("/payroll")
	grp.GET("/rate", s.GetRate)
	grp.GET("/pool", s.GetPool)
	grp.GET("/owner", s.GetOwner)
	grp.POST("/batch", s.PreviewBatch)
	grp.POST("/fund", s.Fund)
	grp.POST("/fund/roster", s.FundForRoster)
	grp.POST("/disburse", s.Disburse)
	grp.POST("/withdraw", s.Withdraw)
	grp.GET("/history", s.GetHistory)
	grp.GET("/summary", s.GetSummary)
	grp.GET("/submissions/:hash", s.GetSubmission)

	return e
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) StartServer() error {
	err := s.echo.Start(fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Payroll server is running")
}

func (s *Server) log(c echo.Context) logrus.FieldLogger {
	if l, ok := c.Get(loggerKey).(logrus.FieldLogger); ok {
		return l
	}
	return s.logger
}
