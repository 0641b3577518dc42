package enums

// WithdrawalLimitReason identifies which creation guard rejected a withdrawal.
type WithdrawalLimitReason string

const (
	LimitReasonWalletInactive    WithdrawalLimitReason = "wallet_inactive"
	LimitReasonBelowMinimum      WithdrawalLimitReason = "below_minimum"
	LimitReasonAboveMaximum      WithdrawalLimitReason = "above_maximum"
	LimitReasonDailyLimit        WithdrawalLimitReason = "daily_limit"
	LimitReasonMonthlyLimit      WithdrawalLimitReason = "monthly_limit"
	LimitReasonRequestInFlight   WithdrawalLimitReason = "request_in_flight"
	LimitReasonInsufficientFunds WithdrawalLimitReason = "insufficient_funds"
)

func (r WithdrawalLimitReason) String() string {
	return string(r)
}
