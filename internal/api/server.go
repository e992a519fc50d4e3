// Package api HTTP 接口：健康检查、指标、订单簿查询
package api

import (
	"crypto/subtle"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/exchange/ordermatch/internal/metrics"
	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/pkg/decimal"
	omerrors "github.com/exchange/ordermatch/pkg/errors"
	"github.com/exchange/ordermatch/pkg/health"
	"github.com/exchange/ordermatch/pkg/logger"
	"github.com/exchange/ordermatch/pkg/response"
	"github.com/exchange/ordermatch/pkg/tracing"
	"github.com/exchange/ordermatch/pkg/validate"
)

const (
	defaultDepth = 20
	maxDepth     = 500
)

type Options struct {
	Matcher       *orderbook.Matcher
	Health        *health.Health
	InternalToken string
	MetricsToken  string
	PriceScale    int
	Logger        *logger.Logger
}

// Server holds the router and the shared matcher.
type Server struct {
	router        *mux.Router
	matcher       *orderbook.Matcher
	health        *health.Health
	internalToken string
	metricsToken  string
	scale         int
	log           *logger.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	h := opts.Health
	if h == nil {
		h = health.New()
	}
	s := &Server{
		router:        mux.NewRouter(),
		matcher:       opts.Matcher,
		health:        h,
		internalToken: opts.InternalToken,
		metricsToken:  opts.MetricsToken,
		scale:         opts.PriceScale,
		log:           log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.health.ReadyHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadyHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/live", s.health.LiveHandler()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.requireMetricsAuth(metrics.Handler())).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.requireInternalAuth)
	v1.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	v1.HandleFunc("/marketdata/{symbol}", s.handleMarketData).Methods(http.MethodGet)
	v1.HandleFunc("/depth/{symbol}", s.handleDepth).Methods(http.MethodGet)
}

// Handler 带中间件的根 handler
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = tracing.HTTPMiddleware(h)
	h = response.RecoveryMiddleware(s.log)(h)
	return response.RequestIDMiddleware(h)
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) requireInternalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalToken != "" && !tokenMatches(r.Header.Get("X-Internal-Token"), s.internalToken) {
			response.WriteErrorCode(w, r, omerrors.CodeUnauthenticated, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireMetricsAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !metricsAuthorized(r, s.metricsToken) {
			response.WriteErrorCode(w, r, omerrors.CodeUnauthenticated, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func metricsAuthorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	if tokenMatches(strings.TrimSpace(r.Header.Get("X-Metrics-Token")), token) {
		return true
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.HasPrefix(auth, "Bearer ") && tokenMatches(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), token)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": s.matcher.Symbols(),
	})
}

// market 只返回已存在的订单簿，查询不创建新簿。
// 流上的行情请求会懒创建空簿并回 MarketDataReject；HTTP 查询来自运维，未知标的返回 404，避免任意路径参数留下空簿。
func (s *Server) market(w http.ResponseWriter, r *http.Request) (*orderbook.Market, bool) {
	symbol := mux.Vars(r)["symbol"]
	if err := validate.Symbol(symbol); err != nil {
		response.WriteError(w, r, err)
		return nil, false
	}
	symbols := s.matcher.Symbols()
	if i := sort.SearchStrings(symbols, symbol); i == len(symbols) || symbols[i] != symbol {
		response.WriteErrorCode(w, r, omerrors.CodeNotFound, "symbol not found")
		return nil, false
	}
	return s.matcher.GetMarket(symbol), true
}

type orderView struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Owner         string `json:"owner"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OpenQty       int64  `json:"openQty"`
	ExecutedQty   int64  `json:"executedQty"`
	EntryTime     int64  `json:"entryTime"`
}

type levelView struct {
	Price string `json:"price"`
	Qty   int64  `json:"qty"`
	Count int    `json:"count"`
}

func (s *Server) price(p int64) string {
	return decimal.FormatScaled(p, s.scale)
}

func (s *Server) orders(in []orderbook.Order) []orderView {
	out := make([]orderView, 0, len(in))
	for _, o := range in {
		px := "MKT"
		if o.Type == orderbook.TypeLimit {
			px = s.price(o.Price)
		}
		out = append(out, orderView{
			OrderID:       strconv.FormatInt(o.Seq, 10),
			ClientOrderID: o.ClientOrderID,
			Owner:         o.Owner,
			Side:          o.Side.String(),
			Type:          o.Type.String(),
			Price:         px,
			OpenQty:       o.OpenQty,
			ExecutedQty:   o.ExecutedQty,
			EntryTime:     o.EntryTime,
		})
	}
	return out
}

func (s *Server) levels(in []orderbook.PriceQty) []levelView {
	out := make([]levelView, 0, len(in))
	for _, l := range in {
		out = append(out, levelView{Price: s.price(l.Price), Qty: l.Qty, Count: l.Count})
	}
	return out
}

// handleMarketData 全量挂单快照
func (s *Server) handleMarketData(w http.ResponseWriter, r *http.Request) {
	mk, ok := s.market(w, r)
	if !ok {
		return
	}
	snap := mk.Snapshot()
	metrics.IncMarketData(snap.Symbol, "http")
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    snap.Symbol,
		"lastPrice": s.price(snap.LastPrice),
		"bids":      s.orders(snap.Bids),
		"asks":      s.orders(snap.Asks),
	})
}

// handleDepth 按价位聚合的深度，?limit=N
func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	mk, ok := s.market(w, r)
	if !ok {
		return
	}
	limit := defaultDepth
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDepth {
			response.WriteErrorCode(w, r, omerrors.CodeInvalidParam, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	bids, asks := mk.Depth(limit)
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    mk.Symbol(),
		"lastPrice": s.price(mk.LastPrice()),
		"bids":      s.levels(bids),
		"asks":      s.levels(asks),
	})
}
