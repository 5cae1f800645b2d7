package session

import (
	"strings"

	"github.com/google/uuid"
)

// NewClientID returns a fresh ephemeral identity for one editing session.
// It is never persisted beyond the actions it stamps.
func NewClientID() string {
	return uuid.NewString()
}

// ShareURL is the address other participants open to join boardID.
func ShareURL(publicURL, boardID string) string {
	return strings.TrimRight(publicURL, "/") + "/board/" + boardID
}
