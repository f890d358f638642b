package notes

import (
	"errors"
	"fmt"
)

var (
	errMissingRepository = errors.New("repository is required")
	errMissingResolver   = errors.New("identity resolver is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// ServiceError carries a stable code of the form notes.<operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew  = "notes.store.new"
	opLoad      = "notes.load"
	opSave      = "notes.save"
	opDelete    = "notes.delete"
	opMerge     = "notes.merge_import"
	opReconcile = "notes.reconcile"
	opFlush     = "notes.flush"

	reasonInvalidInput    = "invalid_input"
	reasonInvalidKey      = "invalid_key"
	reasonLoadFailed      = "load_failed"
	reasonPersistFailed   = "persist_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonMissingDeps     = "missing_dependency"
	reasonRecordDiscarded = "record_discarded"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
