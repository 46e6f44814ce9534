package models

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	Symbol string `json:"symbol" validate:"required,max=32"`
}

// ExecuteTradeRequest is the body of POST /api/execute_trade.
type ExecuteTradeRequest struct {
	Symbol   string `json:"symbol" validate:"required,max=32"`
	Action   string `json:"action" validate:"required,oneof=BUY SELL"`
	Quantity int    `json:"quantity" default:"1" validate:"gte=1,lte=100000"`
}

// ControlResponse answers start/stop requests.
type ControlResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TradingActive bool   `json:"trading_active"`
}

// StatusResponse answers GET /api/status.
type StatusResponse struct {
	TradingActive       bool                          `json:"trading_active"`
	State               SchedulerState                `json:"state"`
	AnalyzedStocksCount int                           `json:"analyzed_stocks_count"`
	Decisions           map[string]AggregatedDecision `json:"decisions"`
}
