package domain

import "strings"

// Identity is an opaque capability handle (wallet address, oracle address,
// operator id). Identities are only ever compared for equality.
type Identity string

func (id Identity) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

func (id Identity) String() string { return string(id) }

// ProgramAuthority signs every debit from accounts the engine itself custodies.
const ProgramAuthority Identity = "polybet"

// Account names a balance held by the Ledger.
type Account string

const (
	accountUserPrefix  = "user:"
	accountVaultPrefix = "vault:"

	// TreasuryAccount is the shared custody account used by bet-time-locked markets.
	TreasuryAccount Account = "treasury"
)

func UserAccount(id Identity) Account { return Account(accountUserPrefix + string(id)) }

func VaultAccount(marketID string) Account { return Account(accountVaultPrefix + marketID) }

// Owner returns the identity that must authorize debits from a.
func (a Account) Owner() Identity {
	if s, ok := strings.CutPrefix(string(a), accountUserPrefix); ok {
		return Identity(s)
	}
	return ProgramAuthority
}

func (a Account) String() string { return string(a) }
