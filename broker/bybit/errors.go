package bybit

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/autotrader/internal/errs"
)

// Bybit v5 return codes the engine reacts to.
const (
	CodeSystemError         = 10000
	CodeRateLimit           = 10006
	CodeServerError         = 10016
	CodeOrderNotFound       = 110001
	CodeInvalidOrderType    = 110004
	CodeInsufficientBalance = 110007
	CodeSymbolNotFound      = 110009
	CodeInvalidQuantity     = 110020
	CodeInvalidPrice        = 110021
	CodeDuplicateLinkID     = 110072
)

type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Message)
}

// Kind classifies a return code. Unlisted codes are treated as fatal so they
// are never retried blindly.
func (e *APIError) Kind() errs.Kind {
	switch e.Code {
	case CodeRateLimit, CodeServerError, CodeSystemError:
		return errs.KindTransient
	default:
		return errs.KindFatal
	}
}

// IsOrderNotFound reports the "order not exists or too late to cancel" code.
func IsOrderNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == CodeOrderNotFound
}

// IsDuplicateLinkID reports that an order with the same orderLinkId was
// already accepted.
func IsDuplicateLinkID(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == CodeDuplicateLinkID
}

func apiErr(op string, code int, msg string) error {
	ae := &APIError{Code: code, Message: msg}
	return errs.Wrap(ae, ae.Kind(), op)
}

// transportErr tags failures below the API layer (network, timeouts) as
// transient.
func transportErr(op string, err error) error {
	return errs.Wrap(err, errs.KindTransient, op)
}
