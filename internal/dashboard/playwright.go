package dashboard

import (
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// playwrightProbeTimeout bounds the version probe; npx can hang resolving
// packages on a cold cache.
const playwrightProbeTimeout = 30 * time.Second

// playwrightStatus is the GET /api/playwright/status payload.
type playwrightStatus struct {
	Installed      bool     `json:"installed"`
	Version        string   `json:"version,omitempty"`
	Error          string   `json:"error,omitempty"`
	InstallCommand []string `json:"install_command,omitempty"`
}

var playwrightInstallHints = []string{
	"npm install -D @playwright/test",
	"npx playwright install",
}

func (s *Server) handlePlaywrightStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), playwrightProbeTimeout)
	defer cancel()

	JSONResponse(w, probePlaywright(ctx, s.project.Root))
}

// probePlaywright asks the project's npx for the Playwright version.
func probePlaywright(ctx context.Context, workDir string) playwrightStatus {
	cmd := exec.CommandContext(ctx, "npx", "--no-install", "playwright", "--version")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		status := playwrightStatus{
			Installed:      false,
			InstallCommand: playwrightInstallHints,
		}
		if ctx.Err() == context.DeadlineExceeded {
			status.Error = "playwright probe timed out"
		} else {
			status.Error = "playwright is not installed"
		}
		return status
	}
	return playwrightStatus{
		Installed: true,
		Version:   strings.TrimSpace(string(out)),
	}
}
