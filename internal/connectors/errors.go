package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError — внешний сервис попросил подождать. RetryAfter используется как задержка ретрая.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// PermanentError — ошибка, которую бессмысленно повторять (невалидный запрос, нет получателя).
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanent помечает ошибку как неповторяемую. nil остается nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// IsPermanent проверяет метку в цепочке ошибок.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
