package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/router"
	pkgerrors "github.com/Aidin1998/dexroute_unified/pkg/errors"
)

// quoteQuery binds GET /quote parameters.
type quoteQuery struct {
	InputMint       string `form:"inputMint" binding:"required"`
	OutputMint      string `form:"outputMint" binding:"required"`
	Amount          string `form:"amount" binding:"required"`
	SlippageBps     int    `form:"slippageBps"`
	UserPublicKey   string `form:"userPublicKey"`
	FavorLowLatency bool   `form:"favorLowLatency"`
	MaxRoutes       int    `form:"maxRoutes" binding:"omitempty,min=0,max=10"`
}

// executeSwapBody binds POST /swap/execute.
type executeSwapBody struct {
	QuoteID                       string  `json:"quoteId" binding:"required"`
	UserPublicKey                 string  `json:"userPublicKey" binding:"required"`
	WrapAndUnwrapSol              *bool   `json:"wrapAndUnwrapSol"`
	UseSharedAccounts             *bool   `json:"useSharedAccounts"`
	FeeAccount                    string  `json:"feeAccount"`
	ComputeUnitPriceMicroLamports *uint64 `json:"computeUnitPriceMicroLamports"`
	AsLegacyTransaction           bool    `json:"asLegacyTransaction"`
}

// simulateSwapBody binds POST /swap/simulate.
type simulateSwapBody struct {
	QuoteID       string `json:"quoteId" binding:"required"`
	UserPublicKey string `json:"userPublicKey" binding:"required"`
}

// feeBreakdown itemizes the cost of the best route.
type feeBreakdown struct {
	PlatformFee   string `json:"platformFee"`
	GasFee        string `json:"gasFee"`
	TotalFee      string `json:"totalFee"`
	FeePercentage string `json:"feePercentage"`
}

func (s *Server) handleGetQuote(c *gin.Context) {
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondError(c, pkgerrors.Wrap(err, pkgerrors.CodeInvalidInput, "invalid quote parameters"))
		return
	}

	req := &adapters.QuoteRequest{
		InputMint:       q.InputMint,
		OutputMint:      q.OutputMint,
		Amount:          q.Amount,
		SlippageBps:     q.SlippageBps,
		UserPublicKey:   q.UserPublicKey,
		FavorLowLatency: q.FavorLowLatency,
		MaxAlternatives: q.MaxRoutes,
	}

	resp, err := s.engine.FindBestRoute(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp.RequestID = requestID(c)

	c.JSON(http.StatusOK, gin.H{
		"bestRoute":         resp.Best,
		"alternatives":      resp.Alternatives,
		"quoteId":           resp.QuoteID,
		"requestId":         resp.RequestID,
		"totalResponseTime": resp.TotalResponseTimeMs,
		"cacheHitRatio":     resp.CacheHitRatio,
		"feeBreakdown":      buildFeeBreakdown(&resp.Best),
	})
}

func (s *Server) handleGetQuoteRecord(c *gin.Context) {
	record, err := s.store.GetQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleExecuteSwap(c *gin.Context) {
	var body executeSwapBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, pkgerrors.Wrap(err, pkgerrors.CodeInvalidInput, "invalid swap request"))
		return
	}

	opts := adapters.BuildOptions{
		WrapAndUnwrapSol:              body.WrapAndUnwrapSol,
		UseSharedAccounts:             body.UseSharedAccounts,
		FeeAccount:                    body.FeeAccount,
		ComputeUnitPriceMicroLamports: body.ComputeUnitPriceMicroLamports,
		AsLegacyTransaction:           body.AsLegacyTransaction,
	}
	result, err := s.executor.ExecuteSwap(c.Request.Context(), body.QuoteID, body.UserPublicKey, opts)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactionId": result.TransactionID,
		"status":        result.Status,
		"transaction": gin.H{
			"swapTransaction":           result.Transaction.SwapTransaction,
			"lastValidBlockHeight":      result.Transaction.LastValidBlockHeight,
			"prioritizationFeeLamports": result.Transaction.PrioritizationFeeLamports,
		},
		"processingTime": result.ProcessingTimeMs,
		"expiresAt":      result.ExpiresAt,
		"requestId":      requestID(c),
	})
}

func (s *Server) handleSimulateSwap(c *gin.Context) {
	var body simulateSwapBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.respondError(c, pkgerrors.Wrap(err, pkgerrors.CodeInvalidInput, "invalid simulate request"))
		return
	}

	result, err := s.executor.SimulateSwap(c.Request.Context(), body.QuoteID, body.UserPublicKey)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactionId":  result.TransactionID,
		"status":         result.Status,
		"simulation":     result.Simulation,
		"processingTime": result.ProcessingTimeMs,
		"requestId":      requestID(c),
	})
}

func (s *Server) handleGetSwap(c *gin.Context) {
	record, err := s.executor.GetSwapStatus(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleCancelSwap(c *gin.Context) {
	record, err := s.executor.CancelSwap(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// respondError renders the taxonomy envelope. Raw upstream payloads never
// reach clients; for 5xx responses the wrapped cause is logged.
func (s *Server) respondError(c *gin.Context, err error) {
	re := pkgerrors.AsRouterError(err).WithRequestID(requestID(c))
	status := pkgerrors.HTTPStatus(re.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", re.RequestID),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":     re.Code,
		"message":   re.Message,
		"timestamp": re.Timestamp.Format(time.RFC3339Nano),
		"details":   re.Details,
		"requestId": re.RequestID,
	})
}

// buildFeeBreakdown itemizes platform fee plus gas against the input amount.
func buildFeeBreakdown(best *router.RankedQuote) feeBreakdown {
	platform := decimal.Zero
	if best.PlatformFee != nil && best.PlatformFee.Amount != "" {
		if v, err := decimal.NewFromString(best.PlatformFee.Amount); err == nil {
			platform = v
		}
	}
	gas := decimal.NewFromInt(best.GasEstimate)
	total := platform.Add(gas)

	pct := "0"
	if in, err := decimal.NewFromString(best.InAmount); err == nil && !in.IsZero() {
		pct = total.Div(in).Mul(decimal.NewFromInt(100)).Round(6).String()
	}
	return feeBreakdown{
		PlatformFee:   platform.String(),
		GasFee:        strconv.FormatInt(best.GasEstimate, 10),
		TotalFee:      total.String(),
		FeePercentage: pct,
	}
}
