package main

import (
	"errors"

	"github.com/wowemulation-dev/ngdp/internal/ngdperr"
)

// classifyExit maps the ambient error taxonomy (internal/ngdperr) onto
// spec.md §6's exit codes: 0 success, 1 user error, 2 network/transient,
// 3 corruption, 4 missing-key. Protocol/Resource/Crypto errors and any
// unrecognized error fall back to 1 (user error), matching §7's framing
// that protocol errors are "surfaced immediately", not retried or given
// their own process-level signal distinct from a generic failure.
func classifyExit(err error) int {
	if err == nil {
		return ExitOK
	}
	var transient *ngdperr.Transient
	if errors.As(err, &transient) {
		return ExitTransient
	}
	var integrity *ngdperr.Integrity
	if errors.As(err, &integrity) {
		return ExitCorruption
	}
	var missing *ngdperr.Missing
	if errors.As(err, &missing) {
		if missing.Kind == "key" {
			return ExitMissingKey
		}
		return ExitUserError
	}
	return ExitUserError
}
