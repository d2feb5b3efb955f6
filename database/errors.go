// zmforum/database/errors.go
package database

import "errors"

// Sentinel errors for the store. Handlers translate these into HTTP statuses
// with errors.Is; everything else surfaces as a 500.
var (
	// ErrNotFound means a referenced section, category, topic, reply,
	// notification or application does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLocked means a reply was attempted on a locked topic.
	ErrLocked = errors.New("topic is locked")

	// ErrInvalidTag means a topic tag is not part of its category's vocabulary.
	ErrInvalidTag = errors.New("tag is not in the category vocabulary")

	// ErrTooManyAttachments means more media URLs were supplied than allowed.
	ErrTooManyAttachments = errors.New("too many media attachments")

	// ErrForbidden means the caller's role or ownership check failed.
	ErrForbidden = errors.New("operation not permitted")

	// ErrCooldown means an admin application was submitted inside the
	// resubmission window.
	ErrCooldown = errors.New("an application was already submitted recently")
)
