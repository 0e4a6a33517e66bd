package redisipc

// Response is the outcome of SendToGroup: either the fulfilled value produced
// by the remote handler, or the reason the request was rejected. The reason is
// the remote reject content (a string) or a local error such as ErrTimeout.
type Response struct {
	fulfilled bool
	value     string
	reason    any
}

// NewFulfilledResponse wraps content returned by a fulfilled request.
func NewFulfilledResponse(value string) Response {
	return Response{fulfilled: true, value: value}
}

// NewRejectedResponse wraps the reason a request failed.
func NewRejectedResponse(reason any) Response {
	return Response{reason: reason}
}

// Fulfilled reports whether the remote handler fulfilled the request.
func (r Response) Fulfilled() bool { return r.fulfilled }

// Rejected reports whether the request failed, remotely or locally.
func (r Response) Rejected() bool { return !r.fulfilled }

// Value returns the fulfilled content. Empty for rejected responses.
func (r Response) Value() string { return r.value }

// Reason returns the rejection reason: the remote reject content or an error.
// Nil for fulfilled responses.
func (r Response) Reason() any { return r.reason }

// Err returns the reason as an error when one was recorded, nil otherwise.
// Remote reject content is returned by Reason, not Err.
func (r Response) Err() error {
	if err, ok := r.reason.(error); ok {
		return err
	}
	return nil
}
