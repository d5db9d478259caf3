package util

import (
	"context"
	"io"
	"net"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// Server error codes that the harness refers to by name. All server error
// codes can be found at:
// https://github.com/mongodb/mongo/blob/master/src/mongo/base/error_codes.yml
const (
	InvalidOptions          = 72
	IndexNotFound           = 27
	NotYetInitialized       = 94
	InvalidReplicaSetConfig = 93
	AlreadyInitialized      = 23
	NodeNotFound            = 74
)

// IsIndexNotFoundError returns true if this is an IndexNotFoundError.
func IsIndexNotFoundError(err error) bool {
	return GetErrorCode(err) == IndexNotFound
}

// IsReplSetNotInitializedError returns true if the server says its replica
// set has no configuration yet.
func IsReplSetNotInitializedError(err error) bool {
	return GetErrorCode(err) == NotYetInitialized
}

// IsContextCanceledError returns true if this is a Context Canceled error.
func IsContextCanceledError(err error) bool {
	return strings.Contains(err.Error(), context.Canceled.Error())
}

func isRetryablePoolError(err error) bool {
	rerr, ok := err.(driver.RetryablePoolError)
	return ok && rerr.Retryable()
}

func isServerSelectionError(err error) bool {
	_, ok := err.(topology.ServerSelectionError)
	return ok
}

func isConnectionError(err error) bool {
	if connErr, ok := err.(topology.ConnectionError); ok {
		// Network errors are usually wrapped inside ConnectionError instead of being at top-level.
		return isNetworkError(connErr.Wrapped)
	}

	return false
}

// IsDeliveryError returns true if the error means that a command never got
// a reply from the server: network failures, timeouts, server selection
// failures, or a disconnected client. Such errors are distinct from a
// server’s refusal of a command.
func IsDeliveryError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	if errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}

	if mongo.IsTimeout(err) {
		return true
	}

	cause := errors.Cause(err)

	return isNetworkError(cause) ||
		isConnectionError(cause) ||
		isServerSelectionError(cause) ||
		isRetryablePoolError(cause)
}

// IsTransientError returns true if this is an error that is reconnectable and can be retried.
func IsTransientError(err error) bool {
	// Find the root cause.
	err = errors.Cause(err)
	if err == nil {
		return false
	}

	if IsContextCanceledError(err) {
		return false
	}

	// Retry on network errors, e.g. no reachable servers,
	// connection reset by peer, operation timed out, etc.
	if isNetworkError(err) {
		return true
	}

	if isConnectionError(err) {
		return true
	}

	if hasTransientErrorCode(err) {
		return true
	}

	if hasTransientErrorLabel(err) {
		return true
	}

	if isRetryablePoolError(err) {
		return true
	}

	if isServerSelectionError(err) {
		return true
	}

	return false
}

// isNetworkError returns true if this is a NetworkError.
func isNetworkError(err error) bool {
	// Connection errors from syscalls, connection reset by peer, etc.
	if _, ok := err.(net.Error); ok {
		return true
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return true
	}

	if err.Error() == "connection closed" {
		return true
	}

	// Network errors from the driver
	return mongo.IsNetworkError(err)
}

// Codes that a freshly started or restarting replica set member may return
// while it settles.
var transientErrorCodes = mapset.NewSet(
	6,     // HostUnreachable
	7,     // HostNotFound
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	133,   // FailedToSatisfyReadPreference
	134,   // ReadConcernMajorityNotAvailableYet
	189,   // PrimarySteppedDown
	202,   // NetworkInterfaceExceededTimeLimit
	262,   // ExceededTimeLimit
	9001,  // SocketException
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
	13436, // NotPrimaryOrSecondary
)

// hasTransientErrorCode returns true if the error has one of a set of known-to-be-transient
// Mongo server error codes.
func hasTransientErrorCode(err error) bool {
	if GetErrorCode(err) == 0 {
		// The server may send "not master" without an error code.
		if strings.Contains(err.Error(), "not master") {
			return true
		}
	}

	serverErr, ok := err.(mongo.ServerError)
	if !ok {
		return transientErrorCodes.Contains(GetErrorCode(err))
	}

	for code := range transientErrorCodes.Iter() {
		if serverErr.HasErrorCode(code) {
			return true
		}
	}

	return false
}

// These labels come from the mongo source code at
// https://github.com/mongodb/mongo/blob/97900f2f11d0399cef7b36a2644eee3562f1ae41/src/mongo/db/error_labels.h. Note
// that the IsNetworkError() func already checks for the "NetworkError" label under the hood,
// so we don't need to include that here.
var transientErrorLabels = [2]string{
	"RetryableWriteError",
	"TransientTransactionError",
}

// hasTransientErrorLabel returns true if the error is a mongo.ServerError with a label
// indicating a transient error.
func hasTransientErrorLabel(err error) bool {
	if err, ok := err.(mongo.ServerError); ok {
		for _, l := range transientErrorLabels {
			if err.HasErrorLabel(l) {
				return true
			}
		}
	}
	return false
}

// GetErrorCode returns the provided error’s top-level error code.
// It returns 0 if the error is nil or not one of the supported error types.
func GetErrorCode(err error) int {
	switch e := errors.Cause(err).(type) {
	case mongo.CommandError:
		return int(e.Code)
	case driver.Error:
		return int(e.Code)
	case mongo.WriteError:
		return e.Code
	case mongo.WriteConcernError:
		return e.Code
	case mongo.WriteException:
		for _, we := range e.WriteErrors {
			return GetErrorCode(we)
		}
		if e.WriteConcernError != nil {
			return e.WriteConcernError.Code
		}
		return 0
	case mongo.BulkWriteException:
		for _, we := range e.WriteErrors {
			return we.Code
		}
		if e.WriteConcernError != nil {
			return e.WriteConcernError.Code
		}
		return 0
	default:
		return 0
	}
}

// GetErrorCodeName returns the provided error’s code name, if the server
// sent one.
func GetErrorCodeName(err error) string {
	switch e := errors.Cause(err).(type) {
	case mongo.CommandError:
		return e.Name
	case driver.Error:
		return e.Name
	case mongo.WriteConcernError:
		return e.Name
	default:
		return ""
	}
}
