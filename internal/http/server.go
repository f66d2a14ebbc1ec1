package http

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cashbook/internal/core"
	"cashbook/internal/format"
	applog "cashbook/internal/log"
	"cashbook/internal/middleware/ratelimit"
	"cashbook/internal/middleware/security"
	"cashbook/internal/middleware/trace"
	"cashbook/internal/services"
)

// FinanceService is the slice of services.FinanceService the API needs.
type FinanceService interface {
	RecordTransaction(ctx context.Context, typ, amount, category, description string) (core.Transaction, error)
	RetryPending(ctx context.Context) error
	Pending() bool
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	FormattedReport(ctx context.Context, p core.Period) (format.View, error)
	FormattedReports(ctx context.Context) (map[core.Period]format.View, error)
	GetAllTimeBalance(ctx context.Context) (decimal.Decimal, error)
	GetAllTimeBalanceExcluding(ctx context.Context, flagged []string) (decimal.Decimal, []string, error)
	CurrentDay(ctx context.Context) (core.DailyBucket, error)
	Archives(ctx context.Context) (services.ArchiveStatus, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Currency(ctx context.Context) (core.Currency, error)
	SetCurrency(ctx context.Context, code string) (core.Currency, error)
	Theme(ctx context.Context) (string, error)
	SetTheme(ctx context.Context, name string) error
}

// ReadyFunc reports whether backing storage is reachable.
type ReadyFunc func(ctx context.Context) error

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	handlerTimeout  = 15 * time.Second
	readyTimeout    = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	http.Server

	svc    FinanceService
	ready  ReadyFunc
	logger *applog.Logger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	startedAt    time.Time
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	ready              ReadyFunc
	logger             *applog.Logger
	rateLimitPerMinute int
	blockSuspicious    bool
	trustedProxies     []string
}

// WithReadyCheck sets the dependency check used by /readyz.
func WithReadyCheck(fn ReadyFunc) Option {
	return func(o *serverOptions) { o.ready = fn }
}

// WithLogger sets the request logger.
func WithLogger(l *applog.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

// WithRateLimit sets the per-client request budget per minute.
func WithRateLimit(perMinute int) Option {
	return func(o *serverOptions) { o.rateLimitPerMinute = perMinute }
}

// WithBlockSuspicious rejects requests the detector flags instead of only
// logging them.
func WithBlockSuspicious(block bool) Option {
	return func(o *serverOptions) { o.blockSuspicious = block }
}

// WithTrustedProxies adds CIDRs whose forwarding headers are honored.
func WithTrustedProxies(cidrs ...string) Option {
	return func(o *serverOptions) { o.trustedProxies = append(o.trustedProxies, cidrs...) }
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, svc FinanceService, opts ...Option) *Server {
	o := serverOptions{rateLimitPerMinute: ratelimit.DefaultConfig().RequestsPerMinute}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = applog.Default(applog.ComponentHTTP)
	}
	logger := o.logger.WithComponent(applog.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range o.trustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	s := &Server{
		svc:              svc,
		ready:            o.ready,
		logger:           logger,
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: o.rateLimitPerMinute}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		startedAt:        time.Now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = http.TimeoutHandler(handler, handlerTimeout, `{"error":"unavailable","message":"request timed out"}`)
	handler = s.rateLimiter.Middleware(detector.ExtractClientIP, nil)(handler)
	handler = detector.Middleware(o.blockSuspicious)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("POST /transactions/retry", s.handleRetryPending)

	mux.HandleFunc("GET /reports", s.handleReports)
	mux.HandleFunc("GET /reports/{period}", s.handleReport)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /day", s.handleDay)
	mux.HandleFunc("GET /archives", s.handleArchives)
	mux.HandleFunc("GET /export.csv", s.handleExportCSV)

	mux.HandleFunc("GET /settings/currency", s.handleGetCurrency)
	mux.HandleFunc("PUT /settings/currency", s.handleSetCurrency)
	mux.HandleFunc("GET /settings/theme", s.handleGetTheme)
	mux.HandleFunc("PUT /settings/theme", s.handleSetTheme)
}

// Shutdown stops the rate limiter and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
		}
		err = s.Server.Shutdown(ctx)
	})
	return err
}
