package notifier

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid notifier configuration")
	ErrUnknownKind   = errors.New("unknown notification kind")
	ErrFailedToSend  = errors.New("failed to send notification")
)
