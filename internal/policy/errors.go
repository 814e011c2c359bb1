package policy

import "errors"

// ErrPolicyViolation matches any ViolationError via errors.Is.
var ErrPolicyViolation = errors.New("policy violation")

// ViolationError means the policy configuration (or a caller) tried to make
// a never-auto kind automatic, or the thresholds are malformed. Indicates a
// configuration bug; rejected at the boundary rather than tolerated.
type ViolationError struct {
	Kind   string
	Reason string
}

func (e *ViolationError) Error() string {
	return "policy violation for " + e.Kind + ": " + e.Reason
}
func (e *ViolationError) ErrorCode() string { return "POLICY_VIOLATION" }
func (e *ViolationError) Context() map[string]string {
	return map[string]string{
		"action_kind": e.Kind,
		"reason":      e.Reason,
	}
}
func (e *ViolationError) SuggestedAction() string {
	return "fix the policy section of config.yaml"
}
func (e *ViolationError) Is(target error) bool { return target == ErrPolicyViolation }
