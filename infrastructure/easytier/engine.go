// Package easytier adapts the external EasyTier mesh engine to the
// application.MeshEngine contract. The engine runs as a subprocess launched
// from a serialized TOML document; the control API is reached through the
// easytier-cli binary against the instance's RPC portal.
package easytier

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"terracotta/application"
	"terracotta/application/logging"
)

type Engine struct {
	logger   logging.Logger
	corePath string
	cliPath  string
	stateDir string
}

// NewEngine locates the easytier binaries on PATH and prepares the state
// directory the per-instance documents are written to.
func NewEngine(logger logging.Logger) (*Engine, error) {
	corePath, coreErr := exec.LookPath("easytier-core")
	if coreErr != nil {
		return nil, fmt.Errorf("easytier-core not found on PATH: %w", coreErr)
	}
	cliPath, cliErr := exec.LookPath("easytier-cli")
	if cliErr != nil {
		return nil, fmt.Errorf("easytier-cli not found on PATH: %w", cliErr)
	}

	stateDir := filepath.Join(os.TempDir(), "terracotta")
	if mkdirErr := os.MkdirAll(stateDir, 0o755); mkdirErr != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", stateDir, mkdirErr)
	}

	return &Engine{
		logger:   logger,
		corePath: corePath,
		cliPath:  cliPath,
		stateDir: stateDir,
	}, nil
}

// Launch writes the document, picks a free RPC portal and starts
// easytier-core. The returned instance reports Running until the process
// exits.
func (e *Engine) Launch(document []byte) (application.MeshInstance, error) {
	id := uuid.NewString()[:8]
	documentPath := filepath.Join(e.stateDir, fmt.Sprintf("instance-%s.toml", id))
	if writeErr := os.WriteFile(documentPath, document, 0o600); writeErr != nil {
		return nil, fmt.Errorf("cannot write engine document: %w", writeErr)
	}

	rpcPortal, portalErr := freeLoopbackPort()
	if portalErr != nil {
		return nil, fmt.Errorf("cannot allocate RPC portal: %w", portalErr)
	}

	cmd := exec.Command(e.corePath, "-c", documentPath, "--rpc-portal", rpcPortal)
	instance := newInstance(e.logger, e.cliPath, rpcPortal, cmd)
	if startErr := instance.start(); startErr != nil {
		_ = os.Remove(documentPath)
		return nil, fmt.Errorf("cannot launch easytier-core: %w", startErr)
	}

	e.logger.Printf("easytier: launched instance %s, rpc portal %s", id, rpcPortal)
	return instance, nil
}

func freeLoopbackPort() (string, error) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := probe.Addr().String()
	_ = probe.Close()
	return addr, nil
}
