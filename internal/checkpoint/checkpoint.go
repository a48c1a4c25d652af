// Package checkpoint reads named parameter tensors ("state dicts") from model
// checkpoints.
package checkpoint

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/example/spoof-check/internal/tensor"
)

// StateDictKey is the top-level checkpoint entry holding the parameters.
const StateDictKey = "model_state_dict"

var (
	// ErrModelLoad marks every failure to produce a usable model.
	ErrModelLoad = errors.New("model load failed")
	// ErrMissingParam is returned when a parameter name is absent.
	ErrMissingParam = errors.New("parameter not found")
)

// LoadError describes a checkpoint that is missing, unreadable or does not
// match the expected architecture. It matches ErrModelLoad with errors.Is.
type LoadError struct {
	Path  string
	Param string
	Err   error
}

func (e *LoadError) Error() string {
	switch {
	case e.Param != "" && e.Path != "":
		return fmt.Sprintf("load checkpoint %s: %s: %v", e.Path, e.Param, e.Err)
	case e.Param != "":
		return fmt.Sprintf("load checkpoint: %s: %v", e.Param, e.Err)
	case e.Path != "":
		return fmt.Sprintf("load checkpoint %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("load checkpoint: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports ErrModelLoad as a match.
func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }

// StateDict resolves parameter names to tensors. Every call returns a tensor
// with its own storage, so callers may keep or mutate the result freely.
type StateDict interface {
	Tensor(name string) (*tensor.Tensor, error)
}

// Map is an in-memory StateDict.
type Map map[string]*tensor.Tensor

// Tensor returns a copy of the named tensor.
func (m Map) Tensor(name string) (*tensor.Tensor, error) {
	t, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingParam, name)
	}
	return t.Clone(), nil
}

// Fingerprint returns the hex SHA-1 of the checkpoint file. It identifies the
// weights a prediction was made with.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
