package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/floegence/previewdev/deverrors"
	"github.com/floegence/previewdev/internal/defaults"
	"github.com/tidwall/gjson"
)

// DefaultUploadURL receives preview script uploads.
const DefaultUploadURL = "https://cloudflareworkers.com/script"

// maxReplyBytes caps how much of the upload reply is read.
const maxReplyBytes = 1 << 20

// Publisher exchanges the built artifact for an artifact id.
type Publisher interface {
	Publish(ctx context.Context) (string, error)
}

// StaticPublisher returns an id for a script that was uploaded elsewhere.
type StaticPublisher struct {
	ArtifactID string
}

func (p StaticPublisher) Publish(context.Context) (string, error) {
	id := strings.TrimSpace(p.ArtifactID)
	if id == "" {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeMissingArtifactID, errors.New("empty artifact id"))
	}
	return id, nil
}

// UploadPublisher uploads the script file to the preview service.
type UploadPublisher struct {
	// URL is the upload endpoint. Empty uses DefaultUploadURL.
	URL string
	// ScriptPath is the built script (required).
	ScriptPath string
	// Client performs the upload. nil uses a client with the default upload timeout.
	Client *http.Client
}

func (p *UploadPublisher) Publish(ctx context.Context) (string, error) {
	if strings.TrimSpace(p.ScriptPath) == "" {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeInvalidOption, errors.New("missing script path"))
	}
	script, err := os.ReadFile(p.ScriptPath)
	if err != nil {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeUploadFailed, err)
	}
	target := p.URL
	if target == "" {
		target = DefaultUploadURL
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: defaults.UploadTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(script))
	if err != nil {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeInvalidOption, err)
	}
	req.Header.Set("Content-Type", "application/javascript")

	resp, err := client.Do(req)
	if err != nil {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.ClassifyUpstreamCode(err), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeUploadFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeUploadFailed,
			fmt.Errorf("upload rejected: %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}
	id := gjson.GetBytes(body, "id")
	if id.Type != gjson.String || strings.TrimSpace(id.String()) == "" {
		return "", deverrors.Wrap(deverrors.StagePublish, deverrors.CodeMissingArtifactID, errors.New("upload reply has no id"))
	}
	return id.String(), nil
}
