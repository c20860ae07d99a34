package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// attemptLog persists the times of recent failed unlocks next to the
// credential file, so throttling carries over between processes:
//
//	{"failures":["<RFC 3339>", ...]}
type attemptLog struct {
	path string
}

type attemptFile struct {
	Failures []time.Time `json:"failures"`
}

func newAttemptLog(credentialPath string) attemptLog {
	return attemptLog{path: credentialPath + ".attempts"}
}

// load returns the recorded failures, oldest first. A missing file means none.
func (l attemptLog) load() ([]time.Time, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading attempt log: %w", err)
	}

	var f attemptFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing attempt log: %w", err)
	}
	return f.Failures, nil
}

func (l attemptLog) save(failures []time.Time) error {
	data, err := json.Marshal(attemptFile{Failures: failures})
	if err != nil {
		return fmt.Errorf("encoding attempt log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0600); err != nil {
		return fmt.Errorf("writing attempt log: %w", err)
	}
	return nil
}
