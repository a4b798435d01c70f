package identify

import (
	"errors"
	"fmt"
)

// ErrBadImage is returned when the input bytes cannot be decoded as an
// image. An input error, never retried.
var ErrBadImage = errors.New("failed to decode image")

// ErrDuplicateReference is returned when an enrollment image is a
// near-duplicate of a reference image already stored for that identity.
var ErrDuplicateReference = errors.New("duplicate reference image for identity")

// FaceCountError rejects an enrollment image that does not contain
// exactly one face. The tenant's index is left unchanged.
type FaceCountError struct {
	Found int
}

func (e *FaceCountError) Error() string {
	return fmt.Sprintf("expected 1 face, found %d", e.Found)
}
