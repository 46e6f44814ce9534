package news

import (
	"math"
	"strings"
)

var defaultCompanies = map[string]string{
	"AAPL":       "Apple",
	"MSFT":       "Microsoft",
	"GOOGL":      "Google",
	"AMZN":       "Amazon",
	"TSLA":       "Tesla",
	"NVDA":       "NVIDIA",
	"INFY":       "Infosys",
	"TCS":        "Tata Consultancy Services",
	"RELIANCE":   "Reliance Industries",
	"HDFCBANK":   "HDFC Bank",
	"ICICIBANK":  "ICICI Bank",
	"SBIN":       "State Bank of India",
	"TATAMOTORS": "Tata Motors",
	"WIPRO":      "Wipro",
	"AXISBANK":   "Axis Bank",
	"BAJFINANCE": "Bajaj Finance",
}

// Companies resolves a ticker to the company name used in news search.
type Companies map[string]string

// NewCompanies merges overrides into the built-in table.
func NewCompanies(overrides map[string]string) Companies {
	c := make(Companies, len(defaultCompanies)+len(overrides))
	for k, v := range defaultCompanies {
		c[k] = v
	}
	for k, v := range overrides {
		c[strings.ToUpper(k)] = v
	}
	return c
}

// Name returns the company name, or the symbol itself when unknown.
func (c Companies) Name(symbol string) string {
	if n, ok := c[strings.ToUpper(symbol)]; ok {
		return n
	}
	return symbol
}

// Relevance scores how much text is about the instrument:
// min(1, (2*symbol mentions + company mentions) / (words/10)).
func Relevance(text, symbol, company string) float64 {
	words := len(strings.Fields(text))
	if words == 0 || symbol == "" {
		return 0
	}
	upper := strings.ToUpper(text)
	symbolCount := strings.Count(upper, strings.ToUpper(symbol))
	companyCount := 0
	if company != "" {
		companyCount = strings.Count(upper, strings.ToUpper(company))
	}
	return math.Min(1, float64(2*symbolCount+companyCount)/(float64(words)/10))
}
