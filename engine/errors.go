package engine

// timeoutError implements the net.Error interface, patterned on the old
// net package's timeoutError: Timeout() and Temporary() both report
// true, so callers that only check for net.Error keep working.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "probe timed out" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// ErrTimeout is the shared timeoutError value. No function in this
// module returns it; probe timeouts reach the Reporter as ResultTimeout.
var ErrTimeout error = &timeoutError{}
