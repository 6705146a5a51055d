package action

import "errors"

// ErrMissingSession is returned when an action reaches an interceptor that
// requires an authenticated session but none was attached upstream.
var ErrMissingSession = errors.New("action missing session context")

// ErrPolicyDenied is returned when the policy engine denies an action.
var ErrPolicyDenied = errors.New("action denied by policy")
