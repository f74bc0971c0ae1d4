// Package escrow implements the tri-party escrow contract: a buyer deposits
// once, then either confirms delivery (funds go to the seller) or, on the
// upgraded logic, the seller ejects the funds back to the buyer.
//
// Three logic versions share one storage layout:
//
//	Escrow           parties fixed by the constructor
//	SmarterEscrowV0  parties fixed by initialize, deployable behind a proxy
//	SmarterEscrowV1  V0 plus ejectFunds
package escrow

import (
	"errors"
)

var (
	ErrUnauthorized        = errors.New("escrow: caller not authorized")
	ErrAlreadyPaid         = errors.New("escrow: already paid")
	ErrInvalidAmount       = errors.New("escrow: invalid amount")
	ErrInsufficientBalance = errors.New("escrow: no funds to release")
	ErrAlreadyInitialized  = errors.New("escrow: already initialized")
	ErrInvalidParty        = errors.New("escrow: invalid party address")
	ErrNotEscrow           = errors.New("escrow: address is not an escrow")
)

// Revert reasons, as surfaced to callers.
const (
	ReasonOnlyBuyer          = "Only buyer can call this method"
	ReasonOnlySeller         = "Only seller can call this method"
	ReasonAlreadyPaid        = "Already paid"
	ReasonZeroDeposit        = "Deposit must be greater than zero"
	ReasonNoFunds            = "No funds to release"
	ReasonAlreadyInitialized = "Contract instance has already been initialized"
	ReasonInvalidParty       = "Invalid party address"
)

// Code IDs under which the logic versions are registered.
const (
	CodeEscrow = "Escrow"
	CodeV0     = "SmarterEscrowV0"
	CodeV1     = "SmarterEscrowV1"
)

// Logic version names.
const (
	VersionEscrow = "escrow"
	VersionV0     = "v0"
	VersionV1     = "v1"
)
