package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
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
	SubTypeCollateral AccountSubType = iota
	SubTypeDebt

	// System sub-types
	SubTypeSystemSurplus

	// External sub-types (boundary accounts, balances not tracked)
	SubTypeExternalTransfers
	SubTypeExternalIssuance
)

// AccountKey is the in-memory key for balance tracking. Comparable, so it
// serves directly as a map key.
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address // user address; zero for system and external accounts
	SubType AccountSubType
	Asset   common.Address
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(user common.Address, subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   user,
		SubType: subType,
		Asset:   asset,
	}
}

// NewSystemAccountKey creates a key for protocol-owned accounts
func NewSystemAccountKey(subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// Tracked reports whether the tracker keeps a balance for this account.
// External accounts are the world outside the engine and are never tracked.
func (k AccountKey) Tracked() bool {
	return k.Scope != AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner.Hex(), k.SubType.String(), k.Asset.Hex())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.SubType.String(), k.Asset.Hex())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType.String(), k.Asset.Hex())
	}
	return "unknown"
}

func (s AccountSubType) String() string {
	switch s {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeDebt:
		return "debt"
	case SubTypeSystemSurplus:
		return "surplus"
	case SubTypeExternalTransfers:
		return "transfers"
	case SubTypeExternalIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}

func parseSubType(s string) (AccountSubType, bool) {
	switch s {
	case "collateral":
		return SubTypeCollateral, true
	case "debt":
		return SubTypeDebt, true
	case "surplus":
		return SubTypeSystemSurplus, true
	case "transfers":
		return SubTypeExternalTransfers, true
	case "issuance":
		return SubTypeExternalIssuance, true
	}
	return 0, false
}

// ParseAccountPath is the inverse of AccountPath. Used when restoring
// snapshots, which key balances by path.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	bad := func() (AccountKey, error) {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	switch {
	case len(parts) == 4 && parts[0] == "user":
		st, ok := parseSubType(parts[2])
		if !ok || !common.IsHexAddress(parts[1]) || !common.IsHexAddress(parts[3]) {
			return bad()
		}
		return NewUserAccountKey(common.HexToAddress(parts[1]), st, common.HexToAddress(parts[3])), nil

	case len(parts) == 3 && (parts[0] == "system" || parts[0] == "external"):
		st, ok := parseSubType(parts[1])
		if !ok || !common.IsHexAddress(parts[2]) {
			return bad()
		}
		if parts[0] == "system" {
			return NewSystemAccountKey(st, common.HexToAddress(parts[2])), nil
		}
		return NewExternalAccountKey(st, common.HexToAddress(parts[2])), nil
	}

	return bad()
}
