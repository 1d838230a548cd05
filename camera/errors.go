package camera

import "errors"

var (
	// ErrDeviceUnavailable indicates the capture backend is missing or the
	// device could not be claimed even after eviction.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrFeatureDisabled indicates a pipeline was invoked while disabled by
	// configuration.
	ErrFeatureDisabled = errors.New("feature disabled via configuration")

	// ErrConfigInvalid indicates out-of-range geometry or quality values.
	ErrConfigInvalid = errors.New("invalid configuration values")

	// ErrOperationFailed indicates an isolated hardware call failure. State
	// flags are rolled back to the last consistent values.
	ErrOperationFailed = errors.New("camera operation failed")

	// ErrDeviceBusy indicates other processes still hold the device nodes
	// after the conflict resolver attempted to free them.
	ErrDeviceBusy = errors.New("camera device busy")
)
