package sync

import "errors"

var (
	// ErrDrainInProgress is returned by Drain while another drain runs. The
	// running drain picks up newly queued operations before it returns.
	ErrDrainInProgress = errors.New("drain already in progress")

	// ErrOffline indicates an operation that needs the backend while offline
	ErrOffline = errors.New("offline")

	// ErrAlreadyRunning indicates a second Start on a running driver
	ErrAlreadyRunning = errors.New("sync driver already running")
)
