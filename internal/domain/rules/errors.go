package rules

import "errors"

// Sentinel kinds for rule errors.
var (
	ErrInvalidRule = errors.New("invalid scoring rule")
	ErrRuleStore   = errors.New("rule store failure")
)
