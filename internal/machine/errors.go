package machine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyTable = errors.New("machine table is empty")
	errDuplicate  = errors.New("duplicate machine identifier")
)

// ConfigurationError reports an unknown machine identifier or an invalid
// machine table entry.
type ConfigurationError struct {
	Machine   string
	Supported []string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		if e.Machine == "" {
			return fmt.Sprintf("invalid machine configuration: %v", e.Err)
		}
		return fmt.Sprintf("invalid machine %q: %v", e.Machine, e.Err)
	}
	return fmt.Sprintf("unsupported machine %q (supported: %s)", e.Machine, strings.Join(e.Supported, ", "))
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is or wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
