package foliocore

// Account types.
const (
	AccountTypeCash      = "CASH"
	AccountTypeBrokerage = "BROKERAGE"
)

// Instrument types.
const (
	InstrumentTypeStock = "STOCK"
	InstrumentTypeFund  = "FUND"
)

// MarketCustom marks instruments with manually maintained prices; they are
// skipped by quote refresh.
const MarketCustom = "CUSTOM"

// Transaction types.
const (
	TxTypeBuy              = "BUY"
	TxTypeSell             = "SELL"
	TxTypeDividend         = "DIVIDEND"
	TxTypeFee              = "FEE"
	TxTypeCashIn           = "CASH_IN"
	TxTypeCashOut          = "CASH_OUT"
	TxTypeInternalTransfer = "INTERNAL_TRANSFER"
)

var TransactionTypes = []string{
	TxTypeBuy,
	TxTypeSell,
	TxTypeDividend,
	TxTypeFee,
	TxTypeCashIn,
	TxTypeCashOut,
	TxTypeInternalTransfer,
}

// Quote provider statuses persisted alongside each quote row.
const (
	QuoteStatusSuccess        = "SUCCESS"
	QuoteStatusFailed         = "FAILED"
	QuoteStatusManualOverride = "MANUAL_OVERRIDE"
)

// Provider statuses reported by symbol lookup.
const (
	ProviderStatusSuccess     = "success"
	ProviderStatusNotFound    = "not_found"
	ProviderStatusRateLimited = "rate_limited"
	ProviderStatusFailed      = "failed"
)

// Account represents a cash or brokerage account.
type Account struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	BaseCurrency     string  `json:"base_currency"`
	IsActive         bool    `json:"is_active"`
	AllocationNodeID *int64  `json:"allocation_node_id"`
	CreatedAt        *string `json:"created_at"`
	UpdatedAt        *string `json:"updated_at"`
}

// AccountPatch carries partial account updates.
type AccountPatch struct {
	Name             *string `json:"name"`
	Type             *string `json:"type"`
	BaseCurrency     *string `json:"base_currency"`
	IsActive         *bool   `json:"is_active"`
	AllocationNodeID *int64  `json:"allocation_node_id"`
	ClearNodeBinding bool    `json:"clear_node_binding"`
}

// Instrument represents a tradable or custom instrument.
type Instrument struct {
	ID               int64   `json:"id"`
	Symbol           string  `json:"symbol"`
	Market           string  `json:"market"`
	Type             string  `json:"type"`
	Currency         string  `json:"currency"`
	Name             string  `json:"name"`
	DefaultAccountID *int64  `json:"default_account_id"`
	AllocationNodeID *int64  `json:"allocation_node_id"`
	CreatedAt        *string `json:"created_at"`
	UpdatedAt        *string `json:"updated_at"`
}

// InstrumentPatch carries partial instrument updates.
type InstrumentPatch struct {
	Symbol           *string `json:"symbol"`
	Market           *string `json:"market"`
	Type             *string `json:"type"`
	Currency         *string `json:"currency"`
	Name             *string `json:"name"`
	DefaultAccountID *int64  `json:"default_account_id"`
	AllocationNodeID *int64  `json:"allocation_node_id"`
	ClearNodeBinding bool    `json:"clear_node_binding"`
}

// Transaction represents one ledger row.
type Transaction struct {
	ID              int64   `json:"id"`
	Type            string  `json:"type"`
	AccountID       int64   `json:"account_id"`
	InstrumentID    *int64  `json:"instrument_id"`
	Quantity        *Amount `json:"quantity"`
	Price           *Amount `json:"price"`
	Amount          Amount  `json:"amount"`
	Fee             Amount  `json:"fee"`
	Tax             Amount  `json:"tax"`
	Currency        string  `json:"currency"`
	ExecutedAt      string  `json:"executed_at"`
	ExecutedTz      string  `json:"executed_tz"`
	TransferGroupID *string `json:"transfer_group_id"`
	Note            *string `json:"note"`
	CreatedAt       *string `json:"created_at"`
}

// CreateTransactionRequest defines inputs to record a transaction.
// For BUY/SELL either InstrumentID or Symbol must be set; an unknown symbol is
// resolved through the quote provider and registered before the write.
type CreateTransactionRequest struct {
	Type                  string  `json:"type"`
	AccountID             int64   `json:"account_id"`
	InstrumentID          *int64  `json:"instrument_id"`
	Symbol                string  `json:"symbol"`
	CounterpartyAccountID *int64  `json:"counterparty_account_id"`
	Quantity              *Amount `json:"quantity"`
	Price                 *Amount `json:"price"`
	Amount                Amount  `json:"amount"`
	Fee                   Amount  `json:"fee"`
	Tax                   Amount  `json:"tax"`
	Currency              string  `json:"currency"`
	ExecutedAt            string  `json:"executed_at"`
	ExecutedTz            string  `json:"executed_tz"`
	Note                  *string `json:"note"`
}

// TransactionPatch carries partial transaction updates. Transfer legs reject
// patches entirely.
type TransactionPatch struct {
	Type         *string `json:"type"`
	AccountID    *int64  `json:"account_id"`
	InstrumentID *int64  `json:"instrument_id"`
	Quantity     *Amount `json:"quantity"`
	Price        *Amount `json:"price"`
	Amount       *Amount `json:"amount"`
	Fee          *Amount `json:"fee"`
	Tax          *Amount `json:"tax"`
	Currency     *string `json:"currency"`
	ExecutedAt   *string `json:"executed_at"`
	ExecutedTz   *string `json:"executed_tz"`
	Note         *string `json:"note"`
}

// TransactionFilter controls transaction queries.
type TransactionFilter struct {
	AccountID    int64
	InstrumentID int64
	Type         string
	Currency     string
	StartDate    string
	EndDate      string
	Limit        int
	Offset       int
}

// DeleteResult reports how many ledger rows one delete removed. A transfer
// pair always reports 2.
type DeleteResult struct {
	Deleted      bool `json:"deleted"`
	DeletedCount int  `json:"deleted_count"`
}

// AllocationNode is one node of the asset-allocation target tree.
type AllocationNode struct {
	ID           int64   `json:"id"`
	ParentID     *int64  `json:"parent_id"`
	Name         string  `json:"name"`
	TargetWeight Amount  `json:"target_weight"`
	OrderIndex   int     `json:"order_index"`
	CreatedAt    *string `json:"created_at"`
	UpdatedAt    *string `json:"updated_at"`
}

// CreateNodeRequest defines inputs to insert an allocation node.
type CreateNodeRequest struct {
	ParentID     *int64 `json:"parent_id"`
	Name         string `json:"name"`
	TargetWeight Amount `json:"target_weight"`
	OrderIndex   int    `json:"order_index"`
}

// NodePatch carries partial allocation node updates.
type NodePatch struct {
	ParentID     *int64  `json:"parent_id"`
	MoveToRoot   bool    `json:"move_to_root"`
	Name         *string `json:"name"`
	TargetWeight *Amount `json:"target_weight"`
	OrderIndex   *int    `json:"order_index"`
}

// NodeWeightItem is one proposed weight in a sibling batch update.
type NodeWeightItem struct {
	ID           int64  `json:"id"`
	TargetWeight Amount `json:"target_weight"`
}

// BatchWeightsRequest updates a whole sibling set atomically. The items must
// name exactly the children of ParentID.
type BatchWeightsRequest struct {
	ParentID *int64           `json:"parent_id"`
	Items    []NodeWeightItem `json:"items"`
}

// NodeDeleteResult reports the effect of a cascading node delete.
type NodeDeleteResult struct {
	Deleted            bool `json:"deleted"`
	DeletedNodes       int  `json:"deleted_nodes"`
	UnboundInstruments int  `json:"unbound_instruments"`
	UnboundAccounts    int  `json:"unbound_accounts"`
}

// TagGroup is an independent classification dimension for instruments and
// accounts, orthogonal to the allocation tree.
type TagGroup struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	OrderIndex int     `json:"order_index"`
	CreatedAt  *string `json:"created_at"`
}

// Tag belongs to exactly one group.
type Tag struct {
	ID         int64   `json:"id"`
	GroupID    int64   `json:"group_id"`
	Name       string  `json:"name"`
	OrderIndex int     `json:"order_index"`
	CreatedAt  *string `json:"created_at"`
}

// TagSelection binds an instrument or account to one tag within a group.
type TagSelection struct {
	ID        int64  `json:"id"`
	TargetID  int64  `json:"target_id"`
	GroupID   int64  `json:"group_id"`
	TagID     int64  `json:"tag_id"`
	UpdatedAt string `json:"updated_at"`
}

// Holding is a derived position snapshot, recomputed from the ledger on read.
type Holding struct {
	AccountID     int64  `json:"account_id"`
	InstrumentID  int64  `json:"instrument_id"`
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Quantity      Amount `json:"quantity"`
	AvgCost       Amount `json:"avg_cost"`
	MarketPrice   Amount `json:"market_price"`
	MarketValue   Amount `json:"market_value"`
	CostValue     Amount `json:"cost_value"`
	UnrealizedPnL Amount `json:"unrealized_pnl"`
	HasPrice      bool   `json:"has_price"`
	Currency      string `json:"currency"`
}

// CashBalance is the derived running cash position of one account.
type CashBalance struct {
	AccountID       int64  `json:"account_id"`
	AccountName     string `json:"account_name"`
	AccountCurrency string `json:"account_currency"`
	NativeBalance   Amount `json:"native_cash_balance"`
	BaseBalance     Amount `json:"base_cash_balance"`
}

// DriftItem compares one leaf node's target against live holdings.
type DriftItem struct {
	NodeID       int64  `json:"node_id"`
	Name         string `json:"name"`
	TargetWeight Amount `json:"target_weight"`
	ActualWeight Amount `json:"actual_weight"`
	DriftPct     Amount `json:"drift_pct"`
	IsAlerted    bool   `json:"is_alerted"`
}

// ReturnPoint is one day of the returns curve.
type ReturnPoint struct {
	Date            string  `json:"date"`
	NetContribution Amount  `json:"net_contribution"`
	TotalAssets     Amount  `json:"total_assets"`
	TotalReturn     Amount  `json:"total_return"`
	TotalReturnRate *Amount `json:"total_return_rate"`
}

// DashboardSummary aggregates portfolio totals and active drift alerts.
type DashboardSummary struct {
	BaseCurrency     string        `json:"base_currency"`
	TotalAssets      Amount        `json:"total_assets"`
	TotalCash        Amount        `json:"total_cash"`
	TotalMarketValue Amount        `json:"total_market_value"`
	AccountBalances  []CashBalance `json:"account_balances"`
	DriftAlerts      []DriftItem   `json:"drift_alerts"`
}

// ImportRowError identifies one rejected CSV row.
type ImportRowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ImportResult reports the outcome of a CSV batch import.
type ImportResult struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

// Quote is one recorded price observation.
type Quote struct {
	ID             int64  `json:"id"`
	InstrumentID   int64  `json:"instrument_id"`
	QuotedAt       string `json:"quoted_at"`
	Price          Amount `json:"price"`
	Currency       string `json:"currency"`
	Source         string `json:"source"`
	ProviderStatus string `json:"provider_status"`
}

// LatestQuote is the resolved current price for an instrument.
type LatestQuote struct {
	InstrumentID int64   `json:"instrument_id"`
	Price        *Amount `json:"price"`
	Currency     *string `json:"currency"`
	Source       *string `json:"source"`
}

// ManualPriceOverride pins an instrument price ahead of any provider quote.
type ManualPriceOverride struct {
	ID           int64   `json:"id"`
	InstrumentID int64   `json:"instrument_id"`
	Price        Amount  `json:"price"`
	Currency     string  `json:"currency"`
	OverriddenAt string  `json:"overridden_at"`
	Operator     string  `json:"operator"`
	Reason       *string `json:"reason"`
}

// RefreshDetail reports the per-instrument outcome of a quote refresh.
type RefreshDetail struct {
	InstrumentID int64  `json:"instrument_id"`
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// RefreshResult reports a quote refresh run.
type RefreshResult struct {
	Requested int             `json:"requested"`
	Updated   int             `json:"updated"`
	Failed    int             `json:"failed"`
	Details   []RefreshDetail `json:"details"`
}

// SymbolLookupResult is the outcome of resolving a raw symbol through the
// quote provider, trying market-convention candidates in order.
type SymbolLookupResult struct {
	Symbol         string  `json:"symbol"`
	MatchedSymbol  *string `json:"matched_symbol"`
	Found          bool    `json:"found"`
	ProviderStatus string  `json:"provider_status"`
	Name           string  `json:"name,omitempty"`
	Price          *Amount `json:"price,omitempty"`
	Currency       string  `json:"currency,omitempty"`
	Market         string  `json:"market,omitempty"`
	QuoteType      string  `json:"quote_type,omitempty"`
	QuotedAt       *string `json:"quoted_at,omitempty"`
	Message        string  `json:"message,omitempty"`
}

// FxRate is a maintained currency conversion rate.
type FxRate struct {
	ID            int64  `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Rate          Amount `json:"rate"`
	AsOf          string `json:"as_of"`
	Source        string `json:"source"`
}

// AuditLog records one mutation with its before/after state.
type AuditLog struct {
	ID          int64   `json:"id"`
	Entity      string  `json:"entity"`
	EntityID    string  `json:"entity_id"`
	Action      string  `json:"action"`
	BeforeState *string `json:"before_state"`
	AfterState  *string `json:"after_state"`
	At          string  `json:"at"`
}
