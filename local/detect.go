package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/gosh"
	runner "github.com/viant/gosh/runner/local"
	"go.uber.org/zap"
)

// serverCandidates lists entry point locations relative to the home
// directory (~/ prefix), the working directory (./ prefix) or absolute.
var serverCandidates = []string{
	"~/.lanonasis/server/dist/index.js",
	"~/.lanonasis/server/index.js",
	"./node_modules/@lanonasis/memory-server/dist/index.js",
	"./node_modules/@lanonasis/memory-server/index.js",
	"/usr/local/lib/lanonasis/server/index.js",
	"/opt/lanonasis/server/index.js",
}

// DetectServerPath probes the candidate locations for an embedded server
// entry point and returns the first hit. It never fails: probe errors count
// as absence and an empty string means nothing was found.
func (m *Manager) DetectServerPath(ctx context.Context) string {
	for _, candidate := range m.candidates() {
		ok, err := m.fs.Exists(ctx, candidate)
		if err != nil {
			m.logger.Debug("candidate probe failed", zap.String("path", candidate), zap.Error(err))
			continue
		}
		if ok {
			return candidate
		}
	}
	return ""
}

func (m *Manager) candidates() []string {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	var result []string
	for _, candidate := range serverCandidates {
		switch {
		case strings.HasPrefix(candidate, "~/"):
			if home == "" {
				continue
			}
			result = append(result, filepath.Join(home, candidate[2:]))
		case strings.HasPrefix(candidate, "./"):
			if cwd == "" {
				continue
			}
			result = append(result, filepath.Join(cwd, candidate[2:]))
		default:
			result = append(result, candidate)
		}
	}
	return result
}

// Diagnosis reports whether the host can run a JavaScript server entry point.
type Diagnosis struct {
	NodeAvailable bool   `json:"nodeAvailable"`
	NodeVersion   string `json:"nodeVersion,omitempty"`
	ServerPath    string `json:"serverPath,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// Diagnose checks the node runtime and the configured entry point. Like
// detection it reports problems in the result instead of failing.
func (m *Manager) Diagnose(ctx context.Context) *Diagnosis {
	diagnosis := &Diagnosis{ServerPath: m.Config().ServerPath}
	service, err := gosh.New(ctx, runner.New())
	if err != nil {
		diagnosis.Detail = fmt.Sprintf("failed to initialize command runner: %v", err)
		return diagnosis
	}
	output, code, err := service.Run(ctx, "node --version")
	if err != nil || code != 0 {
		diagnosis.Detail = "node runtime is not available on PATH"
		return diagnosis
	}
	diagnosis.NodeAvailable = true
	diagnosis.NodeVersion = strings.TrimSpace(output)
	if diagnosis.ServerPath == "" {
		diagnosis.Detail = "no server path configured"
	}
	return diagnosis
}
