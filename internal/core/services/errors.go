package services

import (
	stderrors "errors"
	"net/http"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeTaskNotFound         = "TASK_NOT_FOUND"
	ErrCodeTaskInvalidInput     = "TASK_INVALID_INPUT"
	ErrCodeTaskExists           = "TASK_ALREADY_EXISTS"
	ErrCodeTaskNotScheduled     = "TASK_NOT_SCHEDULED"
	ErrCodeTaskNotInProgress    = "TASK_NOT_IN_PROGRESS"
	ErrCodeAssetNotFound        = "TASK_ASSET_NOT_FOUND"
	ErrCodeAssetNotScheduled    = "TASK_ASSET_NOT_SCHEDULED"
	ErrCodePayloadInvalid       = "COMMAND_PAYLOAD_INVALID"
	ErrCodeSessionUnavailable   = "SESSION_UNAVAILABLE"
	ErrCodeTransportUnavailable = "TRANSPORT_UNAVAILABLE"
	ErrCodeStoreFailure         = "STORE_FAILURE"
	ErrCodeDirectoryFailure     = "DIRECTORY_FAILURE"
	ErrCodeLogWorkdir           = "LOG_WORKDIR_FAILED"
	ErrCodeLogFetch             = "LOG_FETCH_FAILED"
	ErrCodeLogArchive           = "LOG_ARCHIVE_FAILED"
	ErrCodeLogUpload            = "LOG_UPLOAD_FAILED"
)

// Task errors
var (
	ErrTaskNotFound = apperrors.New("task: not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeTaskNotFound)
	ErrTaskInvalidInput = apperrors.New("task: invalid input", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeTaskInvalidInput)
	ErrTaskAlreadyExists = apperrors.New("task: already exists", apperrors.CategoryConflict).
				WithTextCode(ErrCodeTaskExists)
	ErrTaskNotScheduled = apperrors.New("task: not in Scheduled state", apperrors.CategoryConflict).
				WithTextCode(ErrCodeTaskNotScheduled)
	ErrTaskNotInProgress = apperrors.New("task: not in InProgress state", apperrors.CategoryConflict).
				WithTextCode(ErrCodeTaskNotInProgress)
)

// Dispatch errors
var (
	ErrAssetNotFound = apperrors.New("dispatch: task asset not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeAssetNotFound)
	ErrAssetNotScheduled = apperrors.New("dispatch: task asset not in Scheduled state", apperrors.CategoryConflict).
				WithTextCode(ErrCodeAssetNotScheduled)
	ErrPayloadInvalid = apperrors.New("dispatch: invalid command payload", apperrors.CategoryValidation).
				WithTextCode(ErrCodePayloadInvalid)
	ErrSessionUnavailable = apperrors.New("dispatch: correlation session unavailable", apperrors.CategoryExternal).
				WithTextCode(ErrCodeSessionUnavailable)
	ErrTransportUnavailable = apperrors.New("dispatch: command transport unavailable", apperrors.CategoryExternal).
				WithTextCode(ErrCodeTransportUnavailable)
)

// Infrastructure errors
var (
	ErrStoreFailure = apperrors.New("store: operation failed", apperrors.CategoryInternal).
			WithTextCode(ErrCodeStoreFailure)
	ErrDirectoryFailure = apperrors.New("directory: lookup failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeDirectoryFailure)
)

// Log archive errors
var (
	ErrLogWorkdir = apperrors.New("log archive: working directory failed", apperrors.CategoryInternal).
			WithTextCode(ErrCodeLogWorkdir)
	ErrLogFetch = apperrors.New("log archive: fetch failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeLogFetch)
	ErrLogArchive = apperrors.New("log archive: packaging failed", apperrors.CategoryInternal).
			WithTextCode(ErrCodeLogArchive)
	ErrLogUpload = apperrors.New("log archive: upload failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeLogUpload)
)

type errorCodeInfo struct {
	code   int
	status int
}

// Numeric codes of the error taxonomy; the HTTP surface reports them.
var errorCodes = map[string]errorCodeInfo{
	ErrCodeTaskNotFound:         {1001, http.StatusNotFound},
	ErrCodeTaskInvalidInput:     {1002, http.StatusBadRequest},
	ErrCodeTaskExists:           {1003, http.StatusConflict},
	ErrCodeTaskNotScheduled:     {1004, http.StatusConflict},
	ErrCodeTaskNotInProgress:    {1005, http.StatusConflict},
	ErrCodeAssetNotFound:        {2001, http.StatusNotFound},
	ErrCodeAssetNotScheduled:    {2002, http.StatusConflict},
	ErrCodePayloadInvalid:       {2003, http.StatusBadRequest},
	ErrCodeSessionUnavailable:   {3001, http.StatusServiceUnavailable},
	ErrCodeTransportUnavailable: {3002, http.StatusServiceUnavailable},
	ErrCodeStoreFailure:         {4001, http.StatusInternalServerError},
	ErrCodeDirectoryFailure:     {4002, http.StatusBadGateway},
	ErrCodeLogWorkdir:           {5001, http.StatusInternalServerError},
	ErrCodeLogFetch:             {5002, http.StatusBadGateway},
	ErrCodeLogArchive:           {5003, http.StatusInternalServerError},
	ErrCodeLogUpload:            {5004, http.StatusBadGateway},
}

// raise clones a sentinel with the failing source and optional metadata.
func raise(base *apperrors.Error, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if source != nil {
		err.Source = source
		if msg := strings.TrimSpace(source.Error()); msg != "" {
			err.Message = base.Message + ": " + msg
		}
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// TextCode returns the engine text code carried by err, if any.
func TextCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// ErrorCode returns the numeric taxonomy code of err, 0 when unknown.
func ErrorCode(err error) int {
	if info, ok := errorCodes[TextCode(err)]; ok {
		return info.code
	}
	return 0
}

// HTTPStatus maps err onto the status the HTTP surface answers with.
func HTTPStatus(err error) int {
	if info, ok := errorCodes[TextCode(err)]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// IsCode reports whether err carries the given text code.
func IsCode(err error, code string) bool {
	return TextCode(err) == code
}
