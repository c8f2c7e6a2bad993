package updater

import (
	"fmt"
)

// ResultCode classifies the outcome of an install or finalize step.
type ResultCode int

const (
	// ResultOk: the expected image is confirmed running.
	ResultOk ResultCode = iota

	// ResultInstallFailed: the attempt failed terminally; retrying means a
	// whole new attempt.
	ResultInstallFailed

	// ResultNeedCompletion: the image was handed to the engine; a reboot
	// is required before the update takes effect.
	ResultNeedCompletion
)

func (c ResultCode) String() string {
	switch c {
	case ResultOk:
		return "Ok"
	case ResultInstallFailed:
		return "InstallFailed"
	case ResultNeedCompletion:
		return "NeedCompletion"
	default:
		return fmt.Sprintf("ResultCode(%d)", int(c))
	}
}

// label is the metrics/wire form of the code.
func (c ResultCode) label() string {
	switch c {
	case ResultOk:
		return "ok"
	case ResultInstallFailed:
		return "install_failed"
	default:
		return "need_completion"
	}
}

// Result is the outcome of one install attempt or finalize step, produced
// once and consumed by the caller.
type Result struct {
	Code    ResultCode
	Message string

	// Cause carries the underlying fault for InstallFailed results, so
	// callers can branch with errors.Is. Nil otherwise.
	Cause error
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func okResult(msg string) Result {
	return Result{Code: ResultOk, Message: msg}
}

func needCompletion(msg string) Result {
	return Result{Code: ResultNeedCompletion, Message: msg}
}

func installFailed(cause error) Result {
	return Result{Code: ResultInstallFailed, Message: cause.Error(), Cause: cause}
}
