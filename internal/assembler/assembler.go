// Package assembler is the boundary to the draft-assembly stage that turns
// downloaded assets into an editor project.
package assembler

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/pkg/utils"
)

// Asset is one downloaded file handed to the assembler.
type Asset struct {
	Path string
	Size int64
}

// Assembler builds the draft project for one task from its local assets and
// returns the resulting draft path.
type Assembler interface {
	Assemble(ctx context.Context, taskID, draftName string, assets []Asset) (string, error)
}

// LocalAssembler writes a minimal draft manifest next to the assets. It
// stands in for the real project builder behind the same interface.
type LocalAssembler struct {
	DraftDir string
}

type draftManifest struct {
	TaskID    string    `json:"task_id"`
	DraftName string    `json:"draft_name"`
	Assets    []Asset   `json:"assets"`
	BuiltAt   time.Time `json:"built_at"`
}

func (a *LocalAssembler) Assemble(ctx context.Context, taskID, draftName string, assets []Asset) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.WithStack(err)
	}
	if draftName == "" {
		draftName = taskID
	}
	dir := filepath.Join(a.DraftDir, draftName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errs.UpstreamError, err.Error())
	}
	data, err := utils.Json.MarshalIndent(draftManifest{
		TaskID:    taskID,
		DraftName: draftName,
		Assets:    assets,
		BuiltAt:   time.Now(),
	}, "", "  ")
	if err != nil {
		return "", errors.WithStack(err)
	}
	path := filepath.Join(dir, "draft_content.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(errs.UpstreamError, err.Error())
	}
	return dir, nil
}
