package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dirsync/core"
)

// Text codes for conditions the engine envelope has no name for.
const (
	SignalErrorConflict = "DIRSYNC_SIGNAL_CONFLICT"
	SignalErrorUnrouted = "DIRSYNC_SIGNAL_UNROUTED"
	SignalErrorFailed   = "DIRSYNC_SIGNAL_FAILED"
)

func signalError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func signalWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return signalError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func signalBadInput(message string, metadata map[string]any) error {
	return signalError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.EngineErrorBadInput,
		metadata,
	)
}

func signalInternal(message string, metadata map[string]any) error {
	return signalError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.EngineErrorInternal,
		metadata,
	)
}
