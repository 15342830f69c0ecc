package smtptransport

import "fmt"

// Kind classifies a transmission failure for the job's error record.
type Kind string

const (
	KindAuthenticationFailed Kind = "authentication_failed"
	KindRecipientRefused     Kind = "recipient_refused"
	KindDataError            Kind = "data_error"
	KindConnectionError      Kind = "connection_error"
	KindOther                Kind = "other"
)

// SendError is a terminal transmission failure. Detail is human-readable and
// bounded to what is safe to persist on the job.
type SendError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func newSendError(kind Kind, err error, format string, args ...any) *SendError {
	return &SendError{
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
