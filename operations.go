package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"avatarcrop/internal/photo"
	"avatarcrop/internal/session"
)

type Operations = []Operation

// Operation is one step of an edit session, as sent by a client or read from
// a script.
type Operation struct {
	Upload *UploadOperation
	Adjust *session.Adjustment
	Commit *CommitOperation
	Cancel *CancelOperation
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case "upload":
		var upload UploadOperation
		if err := json.Unmarshal(data, &upload); err != nil {
			return fmt.Errorf("failed to unmarshal upload operation: %w", err)
		}
		o.Upload = &upload
	case "adjust":
		var adj session.Adjustment
		if err := json.Unmarshal(data, &adj); err != nil {
			return fmt.Errorf("failed to unmarshal adjust operation: %w", err)
		}
		o.Adjust = &adj
	case "commit":
		o.Commit = &CommitOperation{}
	case "cancel":
		o.Cancel = &CancelOperation{}
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) Type() string {
	switch {
	case o.Upload != nil:
		return "upload"
	case o.Adjust != nil:
		return "adjust"
	case o.Commit != nil:
		return "commit"
	case o.Cancel != nil:
		return "cancel"
	}
	return ""
}

// UploadOperation carries image bytes inline (base64 in JSON) or names a file
// relative to the executor's base directory.
type UploadOperation struct {
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

type CommitOperation struct{}

type CancelOperation struct{}

// OperationResult reports the session after one operation.
type OperationResult struct {
	Op     string              `json:"op"`
	State  session.State       `json:"state"`
	Avatar string              `json:"avatar,omitempty"`
	Error  string              `json:"error,omitempty"`
	Image  *photo.ImageInfo    `json:"image,omitempty"`
	Adjust *session.Adjustment `json:"adjustment,omitempty"`
}

// ErrFileUploadsDisabled is returned for filename uploads on an executor
// without a base directory.
var ErrFileUploadsDisabled = errors.New("filename uploads are disabled")

type OperationExecutor struct {
	BaseDir string
	Session *session.Session
}

// Exec runs ops in order and stops at the first failure. Results are returned
// for every operation that ran, including the failed one.
func (r OperationExecutor) Exec(ctx context.Context, ops []Operation) ([]OperationResult, error) {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil, nil
	}

	results := make([]OperationResult, 0, len(ops))
	for i, op := range ops {
		avatar, err := r.executeOperation(ctx, op)
		snap := r.Session.Snapshot()
		res := OperationResult{
			Op:     op.Type(),
			State:  snap.State,
			Avatar: avatar,
			Image:  snap.Image,
			Adjust: snap.Adjustment,
		}
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			log.Ctx(ctx).Error().
				Err(err).
				Int("index", i).
				Str("op", op.Type()).
				Msg("failed to execute operation")
			return results, fmt.Errorf("operation %d (%s): %w", i, op.Type(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) (string, error) {
	switch {
	case op.Upload != nil:
		return "", r.executeUpload(ctx, *op.Upload)
	case op.Adjust != nil:
		return "", r.Session.Adjust(*op.Adjust)
	case op.Commit != nil:
		return r.Session.Commit(ctx)
	case op.Cancel != nil:
		r.Session.Cancel(ctx)
		return "", nil
	}
	return "", fmt.Errorf("empty operation")
}

func (r OperationExecutor) executeUpload(ctx context.Context, op UploadOperation) error {
	data := op.Data
	if op.Filename != "" {
		b, err := r.readFile(ctx, op.Filename)
		if err != nil {
			return err
		}
		data = b
	}
	if len(data) == 0 {
		return fmt.Errorf("upload has no image data")
	}
	r.Session.Upload(ctx, data)
	return r.Session.Wait(ctx)
}

// readFile reads name from inside BaseDir. Absolute paths and paths that
// climb out of BaseDir are refused.
func (r OperationExecutor) readFile(ctx context.Context, name string) ([]byte, error) {
	if r.BaseDir == "" {
		return nil, ErrFileUploadsDisabled
	}
	log.Ctx(ctx).Info().Str("filename", name).Msg("uploading")
	root, err := os.OpenRoot(r.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open base directory %s: %w", r.BaseDir, err)
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return b, nil
}
