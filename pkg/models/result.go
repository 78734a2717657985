package models

// NotFoundReason explains why no payload was produced.
type NotFoundReason string

const (
	ReasonCodeNotFound NotFoundReason = "code_not_found"
)

// DecodedResult is either Found{payload} or NotFound{reason}, never both.
// The zero value is NotFound with an empty reason.
type DecodedResult struct {
	found   bool
	payload string
	reason  NotFoundReason
}

// NewFound builds a successful result.
func NewFound(payload string) DecodedResult {
	return DecodedResult{found: true, payload: payload}
}

// NewNotFound builds a failed result.
func NewNotFound(reason NotFoundReason) DecodedResult {
	return DecodedResult{reason: reason}
}

func (r DecodedResult) IsFound() bool {
	return r.found
}

// Payload returns the decoded text and whether the result is Found.
func (r DecodedResult) Payload() (string, bool) {
	return r.payload, r.found
}

// Reason returns the failure reason and whether the result is NotFound.
func (r DecodedResult) Reason() (NotFoundReason, bool) {
	return r.reason, !r.found
}
