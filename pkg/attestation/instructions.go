// SPDX-License-Identifier: Apache-2.0

// Package attestation detects drift between the instructions an agent is
// currently operating under and the baseline recorded when its task cycle
// began.
package attestation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// InstructionSource resolves the effective instructions for a task.
// Implementations must return the full instruction text; the monitor only
// ever stores hashes of it alongside the baseline copy.
type InstructionSource interface {
	EffectiveInstructions(ctx context.Context, taskID string) (string, error)
}

// FileSource reads instructions from an AGENTS.md found by walking upwards
// from a start directory. Every task shares the same file; per-task layouts
// can point StartDir at the task's worktree.
type FileSource struct {
	StartDir string
	Filename string
}

// NewFileSource creates a FileSource rooted at startDir looking for
// AGENTS.md.
func NewFileSource(startDir string) *FileSource {
	return &FileSource{StartDir: startDir, Filename: "AGENTS.md"}
}

// EffectiveInstructions walks up from StartDir until it finds the
// instruction file. An empty StartDir means the process working directory.
// A missing file yields empty instructions, not an error: an agent without
// instructions still has a (trivial) baseline.
func (s *FileSource) EffectiveInstructions(_ context.Context, _ string) (string, error) {
	name := s.Filename
	if name == "" {
		name = "AGENTS.md"
	}
	start := strings.TrimSpace(s.StartDir)
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		start = wd
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			raw, err := os.ReadFile(candidate)
			if err != nil {
				return "", err
			}
			return string(raw), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

// StaticSource serves instructions from memory. Tests and drivers that
// manage instructions themselves use it.
type StaticSource struct {
	mu           sync.RWMutex
	byTask       map[string]string
	instructions string
}

// NewStaticSource creates a StaticSource serving the given text for every
// task until overridden per task.
func NewStaticSource(instructions string) *StaticSource {
	return &StaticSource{
		byTask:       make(map[string]string),
		instructions: instructions,
	}
}

// Set replaces the shared instruction text.
func (s *StaticSource) Set(instructions string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructions = instructions
}

// SetTask replaces the instruction text for one task.
func (s *StaticSource) SetTask(taskID, instructions string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTask[taskID] = instructions
}

// EffectiveInstructions implements InstructionSource.
func (s *StaticSource) EffectiveInstructions(_ context.Context, taskID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if text, ok := s.byTask[taskID]; ok {
		return text, nil
	}
	return s.instructions, nil
}
