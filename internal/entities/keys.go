package entities

import "fmt"

// Sort-key values and prefixes for the single-table item-store layout
// described in SPEC_FULL.md §3.
const (
	SkUser    = "USER"
	SkBalance = "BALANCE"
	SkOrder   = "ORDER"
	SkLock    = "LOCK"

	PkLockPrefix        = "USER#"
	PkTransactionPrefix = "TRANS#"
	SkAssetPrefix       = "ASSET#"
)

// UserKey returns the (Pk,Sk) of a User row.
func UserKey(username string) (string, string) {
	return username, SkUser
}

// BalanceKey returns the (Pk,Sk) of a Balance row.
func BalanceKey(username string) (string, string) {
	return username, SkBalance
}

// BalanceTransactionPk returns the partition key shared by every
// BalanceTransaction ledger row belonging to username.
func BalanceTransactionPk(username string) string {
	return PkTransactionPrefix + username
}

// AssetBalanceKey returns the (Pk,Sk) of an AssetBalance row.
func AssetBalanceKey(username, assetID string) (string, string) {
	return username, SkAssetPrefix + assetID
}

// AssetTransactionPk returns the partition key shared by every
// AssetTransaction ledger row for a (username, asset) pair.
func AssetTransactionPk(username, assetID string) string {
	return fmt.Sprintf("%s%s#%s", PkTransactionPrefix, username, assetID)
}

// OrderKey returns the (Pk,Sk) of an Order row.
func OrderKey(orderID string) (string, string) {
	return orderID, SkOrder
}

// UserLockKey returns the (Pk,Sk) of a UserLock row.
func UserLockKey(username string) (string, string) {
	return PkLockPrefix + username, SkLock
}
