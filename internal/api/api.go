// Package api exposes the operation and query surface over HTTP. Writes are
// applied synchronously: a 2xx response means the operation committed and
// settled.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mxwtnb/ampo/internal/auction"
	"github.com/mxwtnb/ampo/internal/engine"
	"github.com/mxwtnb/ampo/internal/ledger"
	"github.com/mxwtnb/ampo/internal/liquidation"
	"github.com/mxwtnb/ampo/internal/observability"
	"github.com/mxwtnb/ampo/internal/persistence"
	"github.com/mxwtnb/ampo/internal/pool"
	"github.com/mxwtnb/ampo/internal/settle"
)

// Server wires the engine and the event log into a gin router.
type Server struct {
	engine  *engine.Engine
	events  *persistence.EventLogWriter
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewServer(eng *engine.Engine, events *persistence.EventLogWriter, health *observability.HealthChecker, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		engine:  eng,
		events:  events,
		health:  health,
		log:     log,
		metrics: metrics,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe)

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	v1 := r.Group("/v1")
	{
		v1.GET("/pools", s.listPools)
		v1.GET("/pools/:id", s.getPool)
		v1.GET("/pools/:id/accounts/:address", s.getAccount)
		v1.GET("/pools/:id/events", s.getEvents)

		v1.POST("/pools", s.initializePool)
		v1.POST("/pools/:id/bid", s.bid)
		v1.POST("/pools/:id/deposit", s.deposit)
		v1.POST("/pools/:id/withdraw", s.withdraw)
		v1.POST("/pools/:id/funding-rate", s.setFundingRate)
		v1.POST("/pools/:id/liquidity", s.modifyLiquidity)
		v1.POST("/pools/:id/position", s.modifyPosition)
		v1.POST("/pools/:id/liquidate", s.liquidate)
	}

	return r
}

func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	if s.metrics != nil {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, http.StatusText(c.Writer.Status())).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// --- Queries ---

type poolView struct {
	ID              string `json:"id"`
	RangeLower      int32  `json:"range_lower"`
	RangeUpper      int32  `json:"range_upper"`
	TickSpacing     int32  `json:"tick_spacing"`
	FeeRate         int64  `json:"fee_rate"`
	PaymentIsToken0 bool   `json:"payment_is_token0"`
	Asset0          string `json:"asset0"`
	Asset1          string `json:"asset1"`
	Manager         string `json:"manager,omitempty"`
	Rent            int64  `json:"rent"`
	FundingRate     int64  `json:"funding_rate"`
	TotalLiquidity  int64  `json:"total_liquidity"`
	Block           int64  `json:"block"`
}

func (s *Server) poolView(p *pool.Pool) poolView {
	v := poolView{
		ID:              p.State.ID.Hex(),
		RangeLower:      p.State.RangeLower,
		RangeUpper:      p.State.RangeUpper,
		TickSpacing:     p.State.TickSpacing,
		FeeRate:         p.State.FeeRate,
		PaymentIsToken0: p.State.PaymentIsToken0,
		Asset0:          p.State.Asset0.Hex(),
		Asset1:          p.State.Asset1.Hex(),
		Rent:            p.State.Rent,
		FundingRate:     p.State.FundingRate,
		TotalLiquidity:  p.TotalLiquidity(),
		Block:           s.engine.Block(),
	}
	if p.State.HasManager() {
		v.Manager = p.State.Manager.Hex()
	}
	return v
}

func (s *Server) listPools(c *gin.Context) {
	reg := s.engine.Registry()
	views := make([]poolView, 0, reg.Len())
	for _, id := range reg.IDs() {
		p, err := reg.Get(id)
		if err != nil {
			continue
		}
		views = append(views, s.poolView(p))
	}
	c.JSON(http.StatusOK, gin.H{"pools": views})
}

func (s *Server) getPool(c *gin.Context) {
	p, ok := s.lookupPool(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.poolView(p))
}

type accountView struct {
	Address     string `json:"address"`
	Balance     int64  `json:"balance"`
	Liquidity   int64  `json:"liquidity"`
	Position0   int64  `json:"position0"`
	Position1   int64  `json:"position1"`
	RentOwed    int64  `json:"rent_owed"`
	FundingOwed int64  `json:"funding_owed"`
	Block       int64  `json:"block"`
}

func (s *Server) getAccount(c *gin.Context) {
	p, ok := s.lookupPool(c)
	if !ok {
		return
	}

	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	owner := common.HexToAddress(addr)

	a, exists := p.Accounts[owner]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}

	block := s.engine.Block()
	rentOwed, fundingOwed := p.State.Owed(a, block)
	c.JSON(http.StatusOK, accountView{
		Address:     owner.Hex(),
		Balance:     a.Balance,
		Liquidity:   a.Liquidity,
		Position0:   a.Position0,
		Position1:   a.Position1,
		RentOwed:    rentOwed,
		FundingOwed: fundingOwed,
		Block:       block,
	})
}

func (s *Server) getEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event log disabled"})
		return
	}

	id, ok := parsePoolID(c)
	if !ok {
		return
	}

	events, err := s.events.LoadEvents(c.Request.Context(), id.Hex(), 500)
	if err != nil {
		s.log.Error().Err(err).Msg("event log query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event log query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// --- Operations ---

type initializeRequest struct {
	ID              string `json:"id" binding:"required"`
	RangeLower      int32  `json:"range_lower"`
	RangeUpper      int32  `json:"range_upper"`
	TickSpacing     int32  `json:"tick_spacing" binding:"required"`
	FeeRate         int64  `json:"fee_rate"`
	PaymentIsToken0 bool   `json:"payment_is_token0"`
	Asset0          string `json:"asset0" binding:"required"`
	Asset1          string `json:"asset1" binding:"required"`
}

func (s *Server) initializePool(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Asset0) || !common.IsHexAddress(req.Asset1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset address"})
		return
	}

	err := s.engine.InitializePool(c.Request.Context(), pool.InitializeParams{
		ID:              common.HexToHash(req.ID),
		RangeLower:      req.RangeLower,
		RangeUpper:      req.RangeUpper,
		TickSpacing:     req.TickSpacing,
		FeeRate:         req.FeeRate,
		PaymentIsToken0: req.PaymentIsToken0,
		Asset0:          common.HexToAddress(req.Asset0),
		Asset1:          common.HexToAddress(req.Asset1),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": common.HexToHash(req.ID).Hex()})
}

type bidRequest struct {
	Bidder string `json:"bidder" binding:"required"`
	Rent   int64  `json:"rent"`
}

func (s *Server) bid(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bidder, ok := parseAddress(c, req.Bidder)
	if !ok {
		return
	}

	if err := s.engine.Bid(c.Request.Context(), id, bidder, req.Rent); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type amountRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
}

func (s *Server) deposit(c *gin.Context) {
	s.amountOp(c, s.engine.Deposit)
}

func (s *Server) withdraw(c *gin.Context) {
	s.amountOp(c, s.engine.Withdraw)
}

func (s *Server) amountOp(c *gin.Context, op func(context.Context, common.Hash, common.Address, int64) error) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	account, ok := parseAddress(c, req.Account)
	if !ok {
		return
	}

	if err := op(c.Request.Context(), id, account, req.Amount); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type fundingRateRequest struct {
	Caller string `json:"caller" binding:"required"`
	Rate   int64  `json:"rate"`
}

func (s *Server) setFundingRate(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var req fundingRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller, ok := parseAddress(c, req.Caller)
	if !ok {
		return
	}

	if err := s.engine.SetFundingRate(c.Request.Context(), id, caller, req.Rate); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type liquidityRequest struct {
	Account string `json:"account" binding:"required"`
	Delta   int64  `json:"delta" binding:"required"`
}

func (s *Server) modifyLiquidity(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var req liquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := parseAddress(c, req.Account)
	if !ok {
		return
	}

	if err := s.engine.ModifyLiquidity(c.Request.Context(), id, account, req.Delta); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type positionRequest struct {
	Account string `json:"account" binding:"required"`
	Delta0  int64  `json:"delta0"`
	Delta1  int64  `json:"delta1"`
}

func (s *Server) modifyPosition(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, ok := parseAddress(c, req.Account)
	if !ok {
		return
	}

	if err := s.engine.ModifyOptionsPosition(c.Request.Context(), id, account, req.Delta0, req.Delta1); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type liquidateRequest struct {
	Target string `json:"target" binding:"required"`
	Caller string `json:"caller" binding:"required"`
}

func (s *Server) liquidate(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, ok := parseAddress(c, req.Target)
	if !ok {
		return
	}
	caller, ok := parseAddress(c, req.Caller)
	if !ok {
		return
	}

	if err := s.engine.Liquidate(c.Request.Context(), id, target, caller); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Helpers ---

func (s *Server) lookupPool(c *gin.Context) (*pool.Pool, bool) {
	id, ok := parsePoolID(c)
	if !ok {
		return nil, false
	}
	p, err := s.engine.Registry().Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pool"})
		return nil, false
	}
	return p, true
}

func parsePoolID(c *gin.Context) (common.Hash, bool) {
	raw := c.Param("id")
	if len(raw) != 66 || raw[:2] != "0x" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool id"})
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}

func parseAddress(c *gin.Context, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// respondError maps domain errors to HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrUnknownPool):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrInvalidRange),
		errors.Is(err, ledger.ErrNegativeLiquidity),
		errors.Is(err, ledger.ErrNegativePosition):
		status = http.StatusBadRequest
	case errors.Is(err, pool.ErrAlreadyInitialized),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, auction.ErrInsufficientCollateral),
		errors.Is(err, liquidation.ErrNotLiquidatable),
		errors.Is(err, settle.ErrReentrant):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrOnlyManager):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
