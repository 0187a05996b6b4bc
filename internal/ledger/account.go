package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCollateral AccountSubType = iota // idle deposited collateral
	SubTypeCommitted                        // collateral moved into the AMM for this account's legs
	SubTypePremium                          // premium settled at burn, not yet folded into collateral

	// System sub-types
	SubTypeSystemPoolIdle
	SubTypeSystemPoolAMM
	SubTypeSystemFees

	// External sub-types
	SubTypeExternalCustody
)

// Token identifies one of the two pool collateral tokens.
type Token uint8

const (
	Token0 Token = 0
	Token1 Token = 1
)

func (t Token) String() string {
	if t == Token1 {
		return "token1"
	}
	return "token0"
}

// Tokens lists both collateral tokens for per-token loops.
var Tokens = [2]Token{Token0, Token1}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for user accounts, zero for system/external
	SubType  AccountSubType
	Token    Token
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(accountID uuid.UUID, subType AccountSubType, token Token) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: accountID,
		SubType:  subType,
		Token:    token,
	}
}

// NewSystemAccountKey creates a key for pool-wide system accounts
func NewSystemAccountKey(subType AccountSubType, token Token) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		Token:   token,
	}
}

// NewExternalAccountKey creates a key for the custody boundary account
func NewExternalAccountKey(token Token) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalCustody,
		Token:   token,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), k.Token)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Token)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Token)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath. Unknown segments map to
// zero values, which keeps snapshot restore tolerant of legacy paths.
func ParseAccountPath(path string) AccountKey {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}
	}
	switch parts[0] {
	case "user":
		if len(parts) != 4 {
			return AccountKey{}
		}
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}
		}
		return NewUserAccountKey(uid, parseSubType(parts[2]), parseTokenName(parts[3]))
	case "system":
		return NewSystemAccountKey(parseSubType(parts[1]), parseTokenName(parts[2]))
	case "external":
		return NewExternalAccountKey(parseTokenName(parts[2]))
	}
	return AccountKey{}
}

func parseTokenName(s string) Token {
	if s == "token1" {
		return Token1
	}
	return Token0
}

func parseSubType(s string) AccountSubType {
	switch s {
	case "collateral":
		return SubTypeCollateral
	case "committed":
		return SubTypeCommitted
	case "premium":
		return SubTypePremium
	case "pool_idle":
		return SubTypeSystemPoolIdle
	case "pool_amm":
		return SubTypeSystemPoolAMM
	case "fees":
		return SubTypeSystemFees
	case "custody":
		return SubTypeExternalCustody
	}
	return SubTypeCollateral
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeCommitted:
		return "committed"
	case SubTypePremium:
		return "premium"
	case SubTypeSystemPoolIdle:
		return "pool_idle"
	case SubTypeSystemPoolAMM:
		return "pool_amm"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeExternalCustody:
		return "custody"
	default:
		return "unknown"
	}
}
