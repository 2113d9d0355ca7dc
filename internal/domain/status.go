package domain

// ==================== ASSET STATUS ====================

// AssetStatus is the per-device state of a TaskAsset.
type AssetStatus string

const (
	AssetStatusScheduled       AssetStatus = "Scheduled"
	AssetStatusInProgress      AssetStatus = "InProgress"
	AssetStatusComplete        AssetStatus = "Complete"
	AssetStatusConnectionError AssetStatus = "ConnectionError"
	AssetStatusDeviceError     AssetStatus = "DeviceError"
	AssetStatusSystemError     AssetStatus = "SystemError"
)

// IsTerminal reports whether no further automatic transition leaves s.
func (s AssetStatus) IsTerminal() bool {
	switch s {
	case AssetStatusComplete, AssetStatusConnectionError, AssetStatusDeviceError, AssetStatusSystemError:
		return true
	}
	return false
}

// IsFailure reports whether s is one of the failure kinds.
func (s AssetStatus) IsFailure() bool {
	switch s {
	case AssetStatusConnectionError, AssetStatusDeviceError, AssetStatusSystemError:
		return true
	}
	return false
}

// IsPending reports whether the asset has not reached a terminal status yet.
func (s AssetStatus) IsPending() bool {
	return s == AssetStatusScheduled || s == AssetStatusInProgress
}

// CanTransition reports whether s -> to is an edge of the asset state machine.
// Terminal statuses never revert.
func (s AssetStatus) CanTransition(to AssetStatus) bool {
	switch s {
	case AssetStatusScheduled:
		return to == AssetStatusInProgress
	case AssetStatusInProgress:
		return to.IsTerminal()
	}
	return false
}

// ErrorResult maps a failure kind onto the audit error-result enumeration.
func (s AssetStatus) ErrorResult() (ErrorResult, bool) {
	switch s {
	case AssetStatusConnectionError:
		return ErrorResultConnectionError, true
	case AssetStatusDeviceError:
		return ErrorResultDeviceError, true
	case AssetStatusSystemError:
		return ErrorResultSystemError, true
	}
	return "", false
}

// ==================== TASK STATUS ====================

type TaskStatus string

const (
	TaskStatusScheduled  TaskStatus = "Scheduled"
	TaskStatusInProgress TaskStatus = "InProgress"
	TaskStatusComplete   TaskStatus = "Complete"
	TaskStatusFailure    TaskStatus = "Failure"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailure
}

func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case TaskStatusScheduled:
		return to == TaskStatusInProgress
	case TaskStatusInProgress:
		return to.IsTerminal()
	}
	return false
}

// ==================== AUDIT ERROR RESULT ====================

// ErrorResult is the error classification written to the audit trail. It
// mirrors the asset failure kinds but is a separate type.
type ErrorResult string

const (
	ErrorResultConnectionError ErrorResult = "ConnectionError"
	ErrorResultDeviceError     ErrorResult = "DeviceError"
	ErrorResultSystemError     ErrorResult = "SystemError"
)

// ==================== DEVICE RESULT CODES ====================

// ResultCode is the raw operation result reported by a device.
type ResultCode string

const (
	ResultSucceed  ResultCode = "Succeed"
	ResultError    ResultCode = "Error"
	ResultAccepted ResultCode = "Accepted"
)

// IsTerminal is false only for the transitional Accepted acknowledgement.
func (r ResultCode) IsTerminal() bool {
	return r != ResultAccepted
}

// ==================== ASSET LIVENESS ====================

// Liveness is the reachability of a device as reported to the asset directory.
type Liveness string

const (
	LivenessGood    Liveness = "Good"
	LivenessError   Liveness = "Error"
	LivenessMissing Liveness = "Missing"
)

func (l Liveness) Valid() bool {
	return l == LivenessGood || l == LivenessError || l == LivenessMissing
}
