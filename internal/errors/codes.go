// Package errors provides the escrow error taxonomy.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that carries no escrow code.
	CodeUnknown Code = "UNKNOWN"

	// Auction lifecycle errors
	CodeUnknownAuction      Code = "UNKNOWN_AUCTION"
	CodeNotOwner            Code = "NOT_OWNER"
	CodeSelfBidForbidden    Code = "SELF_BID_FORBIDDEN"
	CodeAuctionInactive     Code = "AUCTION_INACTIVE"
	CodeAuctionAlreadyEnded Code = "AUCTION_ALREADY_ENDED"
	CodeAuctionBusy         Code = "AUCTION_BUSY"
	CodeDeadlineTooSoon     Code = "DEADLINE_TOO_SOON"
	CodeDeadlinePassed      Code = "DEADLINE_PASSED"
	CodeEmptyName           Code = "EMPTY_NAME"
	CodeEmptyMetadata       Code = "EMPTY_METADATA"
	CodeBidTooLow           Code = "BID_TOO_LOW"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"

	// Custody errors
	CodeInvalidCustodian      Code = "INVALID_CUSTODIAN"
	CodeNotAssetOwner         Code = "NOT_ASSET_OWNER"
	CodeCustodyTransferFailed Code = "CUSTODY_TRANSFER_FAILED"
	CodeAssetAlreadyMinted    Code = "ASSET_ALREADY_MINTED"
	CodeUnknownAsset          Code = "UNKNOWN_ASSET"

	// Ledger errors
	CodeNoFundsToWithdraw   Code = "NO_FUNDS_TO_WITHDRAW"
	CodeFundsTransferFailed Code = "FUNDS_TRANSFER_FAILED"

	// Engine lifecycle errors
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"
	CodeNotInitialized     Code = "NOT_INITIALIZED"
)

// HTTPStatus maps escrow codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// NotFound - the addressed record does not exist
	case CodeUnknownAuction, CodeUnknownAsset:
		return http.StatusNotFound

	// Forbidden - caller is not allowed to act on the record
	case CodeNotOwner,
		CodeSelfBidForbidden,
		CodeNotAssetOwner:
		return http.StatusForbidden

	// BadRequest - validation failures, bad input
	case CodeDeadlineTooSoon,
		CodeEmptyName,
		CodeEmptyMetadata,
		CodeBidTooLow,
		CodeInvalidAmount,
		CodeInvalidCustodian:
		return http.StatusBadRequest

	// Conflict - the record's state disallows the operation
	case CodeAuctionInactive,
		CodeAuctionAlreadyEnded,
		CodeAuctionBusy,
		CodeDeadlinePassed,
		CodeAssetAlreadyMinted,
		CodeNoFundsToWithdraw,
		CodeAlreadyInitialized:
		return http.StatusConflict

	// BadGateway - an external collaborator refused the call
	case CodeCustodyTransferFailed, CodeFundsTransferFailed:
		return http.StatusBadGateway

	case CodeNotInitialized:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
