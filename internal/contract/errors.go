package contract

import "errors"

// Registry errors.
var (
	ErrDuplicateContract = errors.New("duplicate contract")
	ErrContractNotFound  = errors.New("contract not found")
	ErrRegistrySealed    = errors.New("contract registry is sealed")
	ErrEmptyKind         = errors.New("contract kind is required")
)

// Schema errors.
var (
	ErrInvalidSchema = errors.New("invalid schema")
)
