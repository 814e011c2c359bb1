package resolver

import "errors"

// ErrModuleUnavailable matches any ModuleUnavailableError via errors.Is.
var ErrModuleUnavailable = errors.New("module unavailable")

// ModuleUnavailableError means a collaborator did not answer in time.
// Recovered locally: the module is recorded as absent and resolution
// proceeds with the remaining inputs.
type ModuleUnavailableError struct {
	Module string
	Err    error
}

func (e *ModuleUnavailableError) Error() string {
	return "module " + e.Module + " unavailable: " + e.Err.Error()
}
func (e *ModuleUnavailableError) Unwrap() error     { return e.Err }
func (e *ModuleUnavailableError) ErrorCode() string { return "MODULE_UNAVAILABLE" }
func (e *ModuleUnavailableError) Context() map[string]string {
	return map[string]string{"module": e.Module}
}
func (e *ModuleUnavailableError) SuggestedAction() string {
	return "check the module's health; the decision proceeded without it"
}
func (e *ModuleUnavailableError) Is(target error) bool { return target == ErrModuleUnavailable }
