package models

import "time"

// DataType classifies what a canonical record represents.
type DataType string

const (
	TypeQuote              DataType = "quote"
	TypeKLine              DataType = "kline"
	TypeFinancialIndicator DataType = "financial_indicator"
	TypeMoneyFlow          DataType = "money_flow"
	TypeNews               DataType = "news"
	TypeMacro              DataType = "macro"
	TypeOption             DataType = "option"
	TypeFuture             DataType = "future"
	TypeESG                DataType = "esg"
	TypeKGEntity           DataType = "kg_entity"
	TypeKGRelation         DataType = "kg_relation"
	TypeKGEvent            DataType = "kg_event"
	TypeFactor             DataType = "factor"
	TypeSocial             DataType = "social"
)

// Frequency is the collection cadence of a data stream.
type Frequency string

const (
	FreqTick      Frequency = "tick"
	FreqMin1      Frequency = "1min"
	FreqMin5      Frequency = "5min"
	FreqMin15     Frequency = "15min"
	FreqMin30     Frequency = "30min"
	FreqMin60     Frequency = "60min"
	FreqDaily     Frequency = "daily"
	FreqWeekly    Frequency = "weekly"
	FreqMonthly   Frequency = "monthly"
	FreqQuarterly Frequency = "quarterly"
	FreqYearly    Frequency = "yearly"
)

// Record is the marker for canonical record families accepted at the
// persistence boundary. ToRecord flattens the struct into the
// source-string-keyed form the table config maps from.
type Record interface {
	ToRecord() map[string]interface{}
}

// StockQuote is a snapshot or end-of-day quote for one symbol.
type StockQuote struct {
	Code       string    `json:"code" db:"code"`
	Name       string    `json:"name" db:"name"`
	TradeDate  time.Time `json:"trade_date" db:"trade_date"`
	Open       *float64  `json:"open,omitempty" db:"open"`
	High       *float64  `json:"high,omitempty" db:"high"`
	Low        *float64  `json:"low,omitempty" db:"low"`
	Close      *float64  `json:"close,omitempty" db:"close"`
	PrevClose  *float64  `json:"prev_close,omitempty" db:"prev_close"`
	ChangePct  *float64  `json:"change_pct,omitempty" db:"change_pct"`
	Volume     *int64    `json:"volume,omitempty" db:"volume"`
	Amount     *float64  `json:"amount,omitempty" db:"amount"`
	Turnover   *float64  `json:"turnover,omitempty" db:"turnover"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

func (q StockQuote) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"code":        q.Code,
		"name":        q.Name,
		"trade_date":  q.TradeDate,
		"open":        deref(q.Open),
		"high":        deref(q.High),
		"low":         deref(q.Low),
		"close":       deref(q.Close),
		"prev_close":  deref(q.PrevClose),
		"change_pct":  deref(q.ChangePct),
		"volume":      derefInt(q.Volume),
		"amount":      deref(q.Amount),
		"turnover":    deref(q.Turnover),
		"source":      q.Source,
		"captured_at": q.CapturedAt,
	}
}

// MoneyFlow decomposes trading volume into order-size buckets.
type MoneyFlow struct {
	Code         string    `json:"code" db:"code"`
	TradeDate    time.Time `json:"trade_date" db:"trade_date"`
	MainInflow   *float64  `json:"main_inflow,omitempty" db:"main_inflow"`
	SuperInflow  *float64  `json:"super_inflow,omitempty" db:"super_inflow"`
	LargeInflow  *float64  `json:"large_inflow,omitempty" db:"large_inflow"`
	MediumInflow *float64  `json:"medium_inflow,omitempty" db:"medium_inflow"`
	SmallInflow  *float64  `json:"small_inflow,omitempty" db:"small_inflow"`
	Source       string    `json:"source" db:"source"`
	CapturedAt   time.Time `json:"captured_at" db:"captured_at"`
}

func (m MoneyFlow) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"code":          m.Code,
		"trade_date":    m.TradeDate,
		"main_inflow":   deref(m.MainInflow),
		"super_inflow":  deref(m.SuperInflow),
		"large_inflow":  deref(m.LargeInflow),
		"medium_inflow": deref(m.MediumInflow),
		"small_inflow":  deref(m.SmallInflow),
		"source":        m.Source,
		"captured_at":   m.CapturedAt,
	}
}

// FinancialIndicator is one reporting-period fundamentals row.
type FinancialIndicator struct {
	Code        string    `json:"code" db:"code"`
	ReportDate  time.Time `json:"report_date" db:"report_date"`
	EPS         *float64  `json:"eps,omitempty" db:"eps"`
	ROE         *float64  `json:"roe,omitempty" db:"roe"`
	Revenue     *float64  `json:"revenue,omitempty" db:"revenue"`
	NetProfit   *float64  `json:"net_profit,omitempty" db:"net_profit"`
	GrossMargin *float64  `json:"gross_margin,omitempty" db:"gross_margin"`
	DebtRatio   *float64  `json:"debt_ratio,omitempty" db:"debt_ratio"`
	Source      string    `json:"source" db:"source"`
	CapturedAt  time.Time `json:"captured_at" db:"captured_at"`
}

func (f FinancialIndicator) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"code":         f.Code,
		"report_date":  f.ReportDate,
		"eps":          deref(f.EPS),
		"roe":          deref(f.ROE),
		"revenue":      deref(f.Revenue),
		"net_profit":   deref(f.NetProfit),
		"gross_margin": deref(f.GrossMargin),
		"debt_ratio":   deref(f.DebtRatio),
		"source":       f.Source,
		"captured_at":  f.CapturedAt,
	}
}

// NewsItem is one news article reference.
type NewsItem struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	URL         string    `json:"url" db:"url"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	Summary     string    `json:"summary,omitempty" db:"summary"`
	Codes       []string  `json:"codes,omitempty" db:"codes"`
	Source      string    `json:"source" db:"source"`
	CapturedAt  time.Time `json:"captured_at" db:"captured_at"`
}

func (n NewsItem) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":           n.ID,
		"title":        n.Title,
		"url":          n.URL,
		"published_at": n.PublishedAt,
		"summary":      n.Summary,
		"codes":        n.Codes,
		"source":       n.Source,
		"captured_at":  n.CapturedAt,
	}
}

// MacroIndicator is one macro-economic data point (CPI, PPI, PMI, LPR, M2).
type MacroIndicator struct {
	Indicator  string    `json:"indicator" db:"indicator"`
	Period     string    `json:"period" db:"period"`
	Value      *float64  `json:"value,omitempty" db:"value"`
	YoY        *float64  `json:"yoy,omitempty" db:"yoy"`
	MoM        *float64  `json:"mom,omitempty" db:"mom"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

func (m MacroIndicator) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"indicator":   m.Indicator,
		"period":      m.Period,
		"value":       deref(m.Value),
		"yoy":         deref(m.YoY),
		"mom":         deref(m.MoM),
		"source":      m.Source,
		"captured_at": m.CapturedAt,
	}
}

// OptionQuote is a derivatives quote for one option contract.
type OptionQuote struct {
	ContractCode string    `json:"contract_code" db:"contract_code"`
	Underlying   string    `json:"underlying" db:"underlying"`
	TradeDate    time.Time `json:"trade_date" db:"trade_date"`
	Strike       *float64  `json:"strike,omitempty" db:"strike"`
	OptionType   string    `json:"option_type" db:"option_type"`
	Close        *float64  `json:"close,omitempty" db:"close"`
	Volume       *int64    `json:"volume,omitempty" db:"volume"`
	OpenInterest *int64    `json:"open_interest,omitempty" db:"open_interest"`
	ImpliedVol   *float64  `json:"implied_vol,omitempty" db:"implied_vol"`
	Source       string    `json:"source" db:"source"`
	CapturedAt   time.Time `json:"captured_at" db:"captured_at"`
}

func (o OptionQuote) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"contract_code": o.ContractCode,
		"underlying":    o.Underlying,
		"trade_date":    o.TradeDate,
		"strike":        deref(o.Strike),
		"option_type":   o.OptionType,
		"close":         deref(o.Close),
		"volume":        derefInt(o.Volume),
		"open_interest": derefInt(o.OpenInterest),
		"implied_vol":   deref(o.ImpliedVol),
		"source":        o.Source,
		"captured_at":   o.CapturedAt,
	}
}

// FutureQuote is a derivatives quote for one futures contract.
type FutureQuote struct {
	ContractCode string    `json:"contract_code" db:"contract_code"`
	TradeDate    time.Time `json:"trade_date" db:"trade_date"`
	Open         *float64  `json:"open,omitempty" db:"open"`
	Close        *float64  `json:"close,omitempty" db:"close"`
	Settlement   *float64  `json:"settlement,omitempty" db:"settlement"`
	Volume       *int64    `json:"volume,omitempty" db:"volume"`
	OpenInterest *int64    `json:"open_interest,omitempty" db:"open_interest"`
	Source       string    `json:"source" db:"source"`
	CapturedAt   time.Time `json:"captured_at" db:"captured_at"`
}

func (f FutureQuote) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"contract_code": f.ContractCode,
		"trade_date":    f.TradeDate,
		"open":          deref(f.Open),
		"close":         deref(f.Close),
		"settlement":    deref(f.Settlement),
		"volume":        derefInt(f.Volume),
		"open_interest": derefInt(f.OpenInterest),
		"source":        f.Source,
		"captured_at":   f.CapturedAt,
	}
}

// FactorValue is a numeric feature for one symbol on one date.
type FactorValue struct {
	Code       string    `json:"code" db:"code"`
	TradeDate  time.Time `json:"trade_date" db:"trade_date"`
	FactorName string    `json:"factor_name" db:"factor_name"`
	Value      *float64  `json:"value,omitempty" db:"value"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

func (f FactorValue) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"code":        f.Code,
		"trade_date":  f.TradeDate,
		"factor_name": f.FactorName,
		"value":       deref(f.Value),
		"source":      f.Source,
		"captured_at": f.CapturedAt,
	}
}

// ESGRating is a composite environmental/social/governance score.
type ESGRating struct {
	Code       string    `json:"code" db:"code"`
	RatingDate time.Time `json:"rating_date" db:"rating_date"`
	Composite  string    `json:"composite" db:"composite"`
	EScore     *float64  `json:"e_score,omitempty" db:"e_score"`
	SScore     *float64  `json:"s_score,omitempty" db:"s_score"`
	GScore     *float64  `json:"g_score,omitempty" db:"g_score"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

func (e ESGRating) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"code":        e.Code,
		"rating_date": e.RatingDate,
		"composite":   e.Composite,
		"e_score":     deref(e.EScore),
		"s_score":     deref(e.SScore),
		"g_score":     deref(e.GScore),
		"source":      e.Source,
		"captured_at": e.CapturedAt,
	}
}

// SocialPost is one social-media mention of a symbol.
type SocialPost struct {
	ID         string    `json:"id" db:"id"`
	Platform   string    `json:"platform" db:"platform"`
	Code       string    `json:"code,omitempty" db:"code"`
	Content    string    `json:"content" db:"content"`
	PostedAt   time.Time `json:"posted_at" db:"posted_at"`
	Sentiment  *float64  `json:"sentiment,omitempty" db:"sentiment"`
	Source     string    `json:"source" db:"source"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

func (s SocialPost) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"id":          s.ID,
		"platform":    s.Platform,
		"code":        s.Code,
		"content":     s.Content,
		"posted_at":   s.PostedAt,
		"sentiment":   deref(s.Sentiment),
		"source":      s.Source,
		"captured_at": s.CapturedAt,
	}
}

func deref(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func derefInt(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// Float returns a pointer to f, for building records with optional fields.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i.
func Int(i int64) *int64 { return &i }
