package enums

import "slices"

// WalletTransactionReason maps to the wallet_transaction_reason_enum enum in Postgres.
type WalletTransactionReason string

const (
	WalletReasonCommission        WalletTransactionReason = "commission"
	WalletReasonTierReward        WalletTransactionReason = "tier_reward"
	WalletReasonWithdrawalHold    WalletTransactionReason = "withdrawal_hold"
	WalletReasonWithdrawalRelease WalletTransactionReason = "withdrawal_release"
	WalletReasonAdjustment        WalletTransactionReason = "adjustment"
)

var walletTransactionReasons = []WalletTransactionReason{
	WalletReasonCommission,
	WalletReasonTierReward,
	WalletReasonWithdrawalHold,
	WalletReasonWithdrawalRelease,
	WalletReasonAdjustment,
}

func (r WalletTransactionReason) String() string {
	return string(r)
}

func (r WalletTransactionReason) IsValid() bool {
	return slices.Contains(walletTransactionReasons, r)
}

// Credit reports whether the reason adds to the wallet balance; holds are the
// only debit.
func (r WalletTransactionReason) Credit() bool {
	return r != WalletReasonWithdrawalHold
}

func ParseWalletTransactionReason(value string) (WalletTransactionReason, error) {
	return parse("wallet transaction reason", value, walletTransactionReasons)
}
