package orders

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuth
	KindProvider
	KindCompensation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindProvider:
		return "provider"
	case KindCompensation:
		return "compensation"
	default:
		return "internal"
	}
}

// Error is the typed failure returned by services. Two errors match under
// errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrProductNotFound       = newErr(KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
	ErrCategoryNotFound      = newErr(KindNotFound, "CATEGORY_NOT_FOUND", "category not found")
	ErrPaymentMethodNotFound = newErr(KindNotFound, "PAYMENT_METHOD_NOT_FOUND", "payment method not found")
	ErrVoucherNotFound       = newErr(KindNotFound, "VOUCHER_NOT_FOUND", "voucher not found")
	ErrInquiryNotFound       = newErr(KindNotFound, "INQUIRY_NOT_FOUND", "inquiry not found")
	ErrOrderNotFound         = newErr(KindNotFound, "ORDER_NOT_FOUND", "order not found")
	ErrSnapshotNotFound      = newErr(KindNotFound, "SNAPSHOT_NOT_FOUND", "snapshot not found")
	ErrUserNotFound          = newErr(KindNotFound, "USER_NOT_FOUND", "user not found")

	ErrProductUnavailable  = newErr(KindValidation, "PRODUCT_UNAVAILABLE", "product is not available")
	ErrSpecialCategory     = newErr(KindValidation, "SPECIAL_CATEGORY", "category is not sold through inquiry")
	ErrMissingInputField   = newErr(KindValidation, "MISSING_INPUT_FIELD", "input field is required")
	ErrBelowMinimumPayable = newErr(KindValidation, "BELOW_MINIMUM_PAYABLE", "total price is below the minimum payable amount")
	ErrVoucherInvalid      = newErr(KindValidation, "VOUCHER_INVALID", "voucher cannot be used")
	ErrPaymentIneligible   = newErr(KindValidation, "PAYMENT_METHOD_INELIGIBLE", "payment method cannot be used for this amount")
	ErrPaymentPhoneMissing = newErr(KindValidation, "PAYMENT_PHONE_REQUIRED", "payment phone is required")
	ErrBadPaymentStatus    = newErr(KindValidation, "INVALID_PAYMENT_STATUS", "payment event status must be SUCCESS or FAILED")
	ErrBadJobPayload       = newErr(KindValidation, "INVALID_JOB_PAYLOAD", "job payload cannot be decoded")

	ErrOfferNotCombinable  = newErr(KindConflict, "OFFER_NOT_COMBINABLE", "voucher cannot be combined with the active offer")
	ErrInquiryExpired      = newErr(KindConflict, "INQUIRY_EXPIRED", "inquiry expired")
	ErrInquiryConsumed     = newErr(KindConflict, "INQUIRY_ALREADY_CONSUMED", "inquiry already consumed")
	ErrOutOfStock          = newErr(KindConflict, "OUT_OF_STOCK", "product is out of stock")
	ErrOfferExhausted      = newErr(KindConflict, "OFFER_EXHAUSTED", "offer quota exhausted")
	ErrDuplicateOrderID    = newErr(KindConflict, "DUPLICATE_ORDER_ID", "order id already exists")
	ErrOrderNotPayable     = newErr(KindConflict, "ORDER_NOT_PAYABLE", "order is no longer awaiting payment")
	ErrRefundAlreadyExists = newErr(KindConflict, "REFUND_ALREADY_EXISTS", "order already refunded")

	ErrInvalidToken = newErr(KindAuth, "INVALID_TOKEN", "checkout token mismatch")

	ErrProviderUnavailable = newErr(KindProvider, "PROVIDER_UNAVAILABLE", "provider call failed")
	ErrCompensation        = newErr(KindCompensation, "COMPENSATION_FAILED", "compensation aborted")
)

// MissingField names the input field that was required but empty.
func MissingField(name string) *Error {
	e := *ErrMissingInputField
	e.Field = name
	return &e
}

// Wrap attaches a cause to one of the sentinel errors.
func Wrap(base *Error, cause error) *Error {
	e := *base
	e.Err = cause
	return &e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the error code or "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// IsPermanent reports whether retrying the same job can never succeed.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindAuth:
		return true
	}
	return false
}
