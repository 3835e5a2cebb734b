// Package clients holds the HTTP adapters for the remote systems the settlement pipeline
// calls: the token ledger, the license registry and the wallet signer.
package clients

import (
	"fmt"
	"net/http"

	"franchise-license-workers/internal/common/errors"
	httpclient "franchise-license-workers/internal/common/http"

	"github.com/tidwall/gjson"
)

// TransportError classifies a failed call. A request that never reached the remote service is
// a retryable unavailable error. For mutating calls a request that was sent but got no answer
// is an ambiguous outcome.
func TransportError(err error, code errors.ErrorCode, service, operation string, mutating bool) error {
	if mutating && httpclient.IsDispatched(err) {
		return errors.NewAmbiguousOutcomeError(service, operation, err)
	}
	return errors.NewUnavailableError(code, service, err)
}

// StatusError classifies a non-2xx response that carries no structured domain error.
// 429 and 503 were not acted upon and are retryable. Any other 5xx on a mutating call is
// ambiguous; 4xx is a definite rejection.
func StatusError(resp *httpclient.Response, code errors.ErrorCode, service, operation string, mutating bool) error {
	body := truncate(resp.Body, 256)
	cause := fmt.Errorf("%s.%s: status %d: %s", service, operation, resp.StatusCode, body)
	switch {
	case httpclient.IsTransientStatus(resp.StatusCode):
		return errors.NewUnavailableError(code, service, cause)
	case resp.StatusCode >= http.StatusInternalServerError:
		if mutating {
			return errors.NewAmbiguousOutcomeError(service, operation, cause)
		}
		return errors.NewUnavailableError(code, service, cause)
	default:
		return errors.NewRemoteRejectedError(service, operation, resp.StatusCode, body)
	}
}

// Optional unwraps the zero/one-element array encoding used for optional fields on the wire.
// A plain non-null value is accepted as present.
func Optional(r gjson.Result) (gjson.Result, bool) {
	if !r.Exists() || r.Type == gjson.Null {
		return gjson.Result{}, false
	}
	if r.IsArray() {
		items := r.Array()
		if len(items) == 0 {
			return gjson.Result{}, false
		}
		return items[0], true
	}
	return r, true
}

// Variant returns the single key and value of a tagged-union object such as {"Err":{...}}.
func Variant(r gjson.Result) (string, gjson.Result) {
	var (
		name  string
		value gjson.Result
	)
	r.ForEach(func(key, v gjson.Result) bool {
		name = key.String()
		value = v
		return false
	})
	return name, value
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
