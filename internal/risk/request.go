package risk

import (
	"github.com/Muneeb-Masood/EC-ML/internal/ml"
	"github.com/Muneeb-Masood/EC-ML/internal/validation"
)

// Validate checks the structure of the request. Malformed numeric content
// inside a component block is left to that component, which reports it in
// its own bundle.
func (r *TransactionRequest) Validate() validation.ValidationErrors {
	checks := []validation.Check{
		validation.Required("transaction_id", r.TransactionID),
		validation.MaxLength("transaction_id", r.TransactionID, validation.MaxIDLength),
		validation.Required("user_id", r.UserID),
		validation.MaxLength("user_id", r.UserID, validation.MaxIDLength),
		validation.OneOf("transaction_type", r.TransactionType, TransactionTypes...),
		validation.RequiredKeys("transaction_data", r.TransactionData, ml.FeatureNames),
	}
	checks = append(checks, r.loginChecks()...)
	if r.TransactionType == TypeWithdrawal {
		checks = append(checks, r.withdrawalChecks()...)
	}
	return validation.Validate(checks...)
}

func (r *TransactionRequest) loginChecks() []validation.Check {
	if r.LoginData == nil {
		return []validation.Check{missing("login_data")}
	}
	s := r.LoginData.Session
	last := r.LoginData.LastLogin

	// An IP address stands in for coordinates the client could not supply.
	needCoords := s.IPAddress == "" || s.Latitude.Present() || s.Longitude.Present()

	return []validation.Check{
		validation.Required("login_data.session.userId", s.UserID),
		validation.Required("login_data.session.deviceId", s.DeviceID),
		validation.Required("login_data.session.timestamp", s.Timestamp),
		validation.When(needCoords, validation.Numeric("login_data.session.latitude", s.Latitude)),
		validation.When(needCoords, validation.Numeric("login_data.session.longitude", s.Longitude)),
		validation.Required("login_data.last_user_login.userId", last.UserID),
		validation.Required("login_data.last_user_login.timestamp", last.Timestamp),
		validation.Numeric("login_data.last_user_login.latitude", last.Latitude),
		validation.Numeric("login_data.last_user_login.longitude", last.Longitude),
	}
}

func (r *TransactionRequest) withdrawalChecks() []validation.Check {
	w := r.WithdrawalData
	if w == nil {
		return []validation.Check{missing("withdrawal_data")}
	}
	return []validation.Check{
		validation.PresentValue("withdrawal_data.current_wallet_balance", w.CurrentWalletBalance),
		validation.PresentValue("withdrawal_data.withdrawal_amount", w.WithdrawalAmount),
		validation.PresentValue("withdrawal_data.conversion_rate", w.ConversionRate),
		validation.PresentValue("withdrawal_data.avg_withdrawal_frequency_14d", w.AvgWithdrawalFrequency14d),
		validation.PresentValue("withdrawal_data.withdrawals_24h", w.Withdrawals24h),
		validation.PresentValue("withdrawal_data.failed_withdrawals_24h", w.FailedWithdrawals24h),
	}
}

func missing(field string) validation.Check {
	return func() *validation.ValidationError {
		return &validation.ValidationError{Field: field, Message: "is required"}
	}
}
