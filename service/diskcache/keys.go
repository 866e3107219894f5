package diskcache

import "strings"

const (
	BalancePrefix         = "balance-service-"
	ActivityPrefix        = "activity-service-"
	ActivityPendingPrefix = "activity-service-pending-"

	ExchangeDataFile     = "balance-service-exchangedata"
	ExchangeRatesFile    = "balance-service-exchangerates"
	TokenPreferencesFile = "balance-service-token-preferences"
)

// NormalizedKey is the address form used in every per-address file name.
func NormalizedKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// BalanceFile is the per-address Account snapshot.
func BalanceFile(address string) string {
	return BalancePrefix + NormalizedKey(address)
}

// ActivityFile is the per-address confirmed transaction group list.
func ActivityFile(address string) string {
	return ActivityPrefix + NormalizedKey(address)
}

// ActivityPendingFile is the per-address pending group list.
func ActivityPendingFile(address string) string {
	return ActivityPendingPrefix + NormalizedKey(address)
}

// IsGlobalBalanceFile reports whether name is shared across all addresses.
func IsGlobalBalanceFile(name string) bool {
	switch name {
	case ExchangeDataFile, ExchangeRatesFile, TokenPreferencesFile:
		return true
	}
	return false
}

// DeleteAll removes every entry whose name starts with prefix and reports
// whether all deletions succeeded.
func DeleteAll(s Store, prefix string) bool {
	ok := true
	for _, name := range s.AllFileNamesWith(prefix) {
		if !s.Delete(name) {
			ok = false
		}
	}
	return ok
}
