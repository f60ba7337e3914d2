package coupon

const (
	operationCreate          = "create"
	operationUpdate          = "update"
	operationRecordUsage     = "record_usage"
	operationDelete          = "delete"
	operationInitialRecharge = "initial_recharge"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// ReferenceManualEntry marks the singular initial recharge row of a
	// coupon. Face-value edits update this row in place.
	ReferenceManualEntry = "manual_entry"

	// DefaultUsageDetails is recorded when a usage report carries no reason.
	DefaultUsageDetails = "coupon usage"

	// InitialRechargeDetails is recorded on the initial recharge row.
	InitialRechargeDetails = "initial balance"

	summaryRowDetails = "running balance"

	expirationLayout = "2006-01-02"
)
