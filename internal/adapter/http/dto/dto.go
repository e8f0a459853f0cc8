package dto

// CreateWalletRequest is the request body for wallet provisioning.
type CreateWalletRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// TransferRequest is the request body for a wallet-to-wallet transfer.
type TransferRequest struct {
	FromWalletID string            `json:"from_wallet_id" binding:"required,uuid"`
	ToWalletID   string            `json:"to_wallet_id" binding:"required,uuid"`
	Amount       string            `json:"amount" binding:"required,token_amount"`
	Kind         string            `json:"kind" binding:"required,txn_kind"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MintRequest credits a wallet from an external fiat payment (token
// purchase). ExternalRef is the upstream payment reference.
type MintRequest struct {
	WalletID    string            `json:"wallet_id" binding:"required,uuid"`
	Amount      string            `json:"amount" binding:"required,token_amount"`
	Kind        string            `json:"kind" binding:"required,txn_kind"`
	ExternalRef string            `json:"external_ref" binding:"required,max=128"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BurnRequest debits a wallet out of the ledger (withdrawal).
type BurnRequest struct {
	WalletID string            `json:"wallet_id" binding:"required,uuid"`
	Amount   string            `json:"amount" binding:"required,token_amount"`
	Kind     string            `json:"kind" binding:"required,txn_kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WalletResponse is the response body for wallet reads.
type WalletResponse struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Address        string `json:"address"`
	Balance        string `json:"balance"`
	FiatEquivalent string `json:"fiat_equivalent"`
	Rate           string `json:"rate,omitempty"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
}

// TransactionResponse is the response body for transaction reads.
type TransactionResponse struct {
	ID           string            `json:"id"`
	FromWalletID *string           `json:"from_wallet_id,omitempty"`
	ToWalletID   *string           `json:"to_wallet_id,omitempty"`
	Kind         string            `json:"kind"`
	Amount       string            `json:"amount"`
	FiatValue    string            `json:"fiat_value"`
	PlatformFee  string            `json:"platform_fee"`
	NetworkFee   *string           `json:"network_fee,omitempty"`
	ExternalRef  *string           `json:"external_ref,omitempty"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
	ConfirmedAt  *string           `json:"confirmed_at,omitempty"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// RateResponse is the response for the current conversion rate.
type RateResponse struct {
	Rate string `json:"rate"`
}

// RateSnapshotResponse is one day of the rate series.
type RateSnapshotResponse struct {
	Rate       string `json:"rate"`
	RecordedOn string `json:"recorded_on"`
}

// FeeEstimateResponse is the response for a network fee estimate.
type FeeEstimateResponse struct {
	Kind string `json:"kind"`
	Fee  string `json:"fee"`
}
