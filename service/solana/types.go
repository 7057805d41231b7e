package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// rpcRequest is the standard JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcError is the JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

// rpcResponse is one JSON-RPC response; in a batch the server returns an
// array of these keyed back to requests by ID.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// SignatureInfo is one entry from getSignaturesForAddress, newest first.
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Err       json.RawMessage `json:"err"`
}

// RawTransaction is a fully resolved transaction: the decoded wire
// message plus its metadata. It is immutable once fetched; the decoder
// derives entities from it and discards it.
type RawTransaction struct {
	Signature   string
	Slot        uint64
	BlockTime   *int64
	Transaction *solanago.Transaction
	Meta        *TransactionMeta
}

// TransactionMeta carries the transaction metadata fields we consume.
type TransactionMeta struct {
	Err               json.RawMessage       `json:"err"`
	LogMessages       []string              `json:"logMessages"`
	PreBalances       []uint64              `json:"preBalances"`
	PostBalances      []uint64              `json:"postBalances"`
	InnerInstructions []InnerInstructionSet `json:"innerInstructions"`
}

// InnerInstructionSet groups the inner instructions emitted while
// executing one top-level instruction.
type InnerInstructionSet struct {
	Index        int                `json:"index"`
	Instructions []InnerInstruction `json:"instructions"`
}

// InnerInstruction is a compiled inner instruction. Data is base58.
type InnerInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// transactionResult is the raw getTransaction result with base64 encoding:
// the transaction field is a ["<payload>", "base64"] tuple.
type transactionResult struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Transaction json.RawMessage  `json:"transaction"`
	Meta        *TransactionMeta `json:"meta"`
}

// decode turns the wire result into a RawTransaction with a decoded
// message. The requested signature is stamped on so callers can correlate
// batch slots even when decoding fails partway.
func (r *transactionResult) decode(signature string) (*RawTransaction, error) {
	var tuple []string
	if err := json.Unmarshal(r.Transaction, &tuple); err != nil {
		return nil, fmt.Errorf("transaction payload is not a base64 tuple: %w", err)
	}
	if len(tuple) == 0 {
		return nil, fmt.Errorf("empty transaction payload")
	}

	payload, err := base64.StdEncoding.DecodeString(tuple[0])
	if err != nil {
		return nil, fmt.Errorf("decode base64 transaction: %w", err)
	}

	tx, err := solanago.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return nil, fmt.Errorf("decode transaction message: %w", err)
	}

	sig := signature
	if sig == "" && len(tx.Signatures) > 0 {
		sig = tx.Signatures[0].String()
	}

	return &RawTransaction{
		Signature:   sig,
		Slot:        r.Slot,
		BlockTime:   r.BlockTime,
		Transaction: tx,
		Meta:        r.Meta,
	}, nil
}

// accountData unmarshals the ["<payload>", "base64"] account data tuple.
type accountData []byte

func (d *accountData) UnmarshalJSON(b []byte) error {
	var tuple []string
	if err := json.Unmarshal(b, &tuple); err != nil {
		return fmt.Errorf("account data is not a base64 tuple: %w", err)
	}
	if len(tuple) == 0 {
		*d = nil
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(tuple[0])
	if err != nil {
		return fmt.Errorf("decode base64 account data: %w", err)
	}
	*d = raw
	return nil
}

// AccountInfo is the subset of getAccountInfo we consume, with the data
// payload already base64-decoded.
type AccountInfo struct {
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	Executable bool        `json:"executable"`
	Data       accountData `json:"data"`
}

// TokenAccount is one entry from getTokenAccountsByOwner.
type TokenAccount struct {
	Pubkey  string       `json:"pubkey"`
	Account *AccountInfo `json:"account"`
}

// SignatureStatus is one entry from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Confirmed reports whether the status has reached confirmed or
// finalized commitment.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// contextWrapped is the common {context, value} result envelope used by
// account and balance queries.
type contextWrapped[T any] struct {
	Value T `json:"value"`
}
