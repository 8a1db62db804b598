// Package discovery maintains the shared multi-instance registry: every
// running daemon advertises its port in one JSON file so clients can find
// instances by project instead of guessing ports.
package discovery

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Entry is one advertised instance.
type Entry struct {
	InstanceID  string    `json:"instance_id"`
	ProjectPath string    `json:"project_path"`
	ProjectName string    `json:"project_name"`
	Port        int       `json:"port"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// InstanceID derives a stable short id from the project path, so the same
// project re-registers under the same key across restarts.
func InstanceID(projectPath string) string {
	sum := sha1.Sum([]byte(filepath.Clean(projectPath)))
	return hex.EncodeToString(sum[:])[:12]
}

// NewEntry builds the advertisement for this process.
func NewEntry(projectPath string, port int) Entry {
	now := time.Now()
	return Entry{
		InstanceID:  InstanceID(projectPath),
		ProjectPath: projectPath,
		ProjectName: filepath.Base(projectPath),
		Port:        port,
		PID:         os.Getpid(),
		StartedAt:   now,
		LastSeen:    now,
	}
}

// liveness is the tri-state outcome of a pid probe.
type liveness int

const (
	pidAlive liveness = iota
	pidDead
	pidUnknown
)

// probePID checks whether a process exists using signal 0. EPERM means the
// process exists but belongs to someone else, which still counts as alive.
func probePID(pid int) liveness {
	if pid <= 0 {
		return pidDead
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pidDead
	}

	err = proc.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return pidAlive
	case errors.Is(err, syscall.ESRCH), errors.Is(err, os.ErrProcessDone):
		return pidDead
	case errors.Is(err, syscall.EPERM):
		return pidAlive
	default:
		return pidUnknown
	}
}
