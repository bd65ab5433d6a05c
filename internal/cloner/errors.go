package cloner

import "errors"

var (
	// ErrPersistence is returned when a store rejects an insert, update or attach
	ErrPersistence = errors.New("persistence failure")

	// ErrAttachment is returned when an attachment could not be duplicated
	ErrAttachment = errors.New("attachment failure")

	// ErrRelationResolution is returned when a cloneable relation is not
	// declared on the source resource
	ErrRelationResolution = errors.New("relation resolution failure")

	// ErrUnknownDatastore is returned when a record is bound to a datastore
	// the engine has no store for
	ErrUnknownDatastore = errors.New("unknown datastore")
)

// IsPersistenceFailure returns true if the error is ErrPersistence
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsAttachmentFailure returns true if the error is ErrAttachment
func IsAttachmentFailure(err error) bool {
	return errors.Is(err, ErrAttachment)
}

// IsRelationResolutionFailure returns true if the error is ErrRelationResolution
func IsRelationResolutionFailure(err error) bool {
	return errors.Is(err, ErrRelationResolution)
}
