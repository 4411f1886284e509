// Package session derives the identifiers that tie a local dev run to the
// remote preview service.
package session

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/floegence/previewdev/deverrors"
	"github.com/floegence/previewdev/listenaddr"
	"github.com/google/uuid"
)

// ID identifies one dev run: 32 lowercase hex characters with no separators.
type ID string

// PreviewToken is sent to the preview service on every proxied request. It
// routes the request to the right artifact and tags inspector events with the
// run's session.
type PreviewToken string

// NewID returns a random session id.
func NewID() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", deverrors.Wrap(deverrors.StageSession, deverrors.CodeRandomFailed, err)
	}
	return ID(hex.EncodeToString(u[:])), nil
}

// Token concatenates artifactID, id, the https flag as a single digit and the
// display host, in that order. The preview service depends on this exact
// layout.
func Token(artifactID string, id ID, addr listenaddr.Address) (PreviewToken, error) {
	if strings.TrimSpace(artifactID) == "" {
		return "", deverrors.Wrap(deverrors.StageSession, deverrors.CodeMissingArtifactID, errors.New("publish returned an empty artifact id"))
	}
	flag := "0"
	if addr.HTTPS {
		flag = "1"
	}
	var b strings.Builder
	b.Grow(len(artifactID) + len(id) + 1 + len(addr.Host))
	b.WriteString(artifactID)
	b.WriteString(string(id))
	b.WriteString(flag)
	b.WriteString(addr.Host)
	return PreviewToken(b.String()), nil
}
