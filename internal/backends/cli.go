package backends

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
	pkgexec "github.com/systmms/vaultsync/pkg/exec"
	"github.com/systmms/vaultsync/pkg/backend"
)

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+)`)

// cliTool runs one backend CLI through the executor seam.
type cliTool struct {
	backend     string
	binary      string
	minVersion  string
	versionArgs []string
	install     string

	executor pkgexec.CommandExecutor
	lookPath func(string) (string, error)
	logger   *logging.Logger
}

func newCLITool(backendName, binary, minVersion string, versionArgs []string, install string, o options) *cliTool {
	executor := o.executor
	if executor == nil {
		executor = pkgexec.DefaultExecutor()
	}
	return &cliTool{
		backend:     backendName,
		binary:      binary,
		minVersion:  minVersion,
		versionArgs: versionArgs,
		install:     install,
		executor:    executor,
		lookPath:    o.lookPath,
		logger:      o.logger,
	}
}

// verify checks that the binary is on PATH and not older than minVersion.
func (c *cliTool) verify(ctx context.Context) error {
	if _, err := c.lookPath(c.binary); err != nil {
		return dserrors.WrapCommandNotFound(c.binary, err)
	}

	stdout, stderr, err := c.executor.Execute(ctx, c.binary, c.versionArgs...)
	if err != nil {
		return dserrors.Wrap(dserrors.KindBackendUnavailable, "check "+c.binary+" version", cliError(err, stderr)).
			WithBackend(c.backend).
			WithRemediation(c.install)
	}

	have, err := parseToolVersion(string(stdout))
	if err != nil {
		return dserrors.Wrap(dserrors.KindBackendUnavailable, "check "+c.binary+" version", err).
			WithBackend(c.backend).
			WithRemediation(c.install)
	}

	constraint, err := semver.NewConstraint(">= " + c.minVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(have) {
		e := dserrors.New(dserrors.KindBackendUnavailable, "check "+c.binary+" version",
			fmt.Sprintf("%s %s is older than the minimum supported %s", c.binary, have, c.minVersion))
		return e.WithBackend(c.backend).WithRemediation(c.install)
	}

	c.logger.Debug("%s %s found", c.binary, have)
	return nil
}

func parseToolVersion(out string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("no version found in %q", strings.TrimSpace(out))
	}
	return semver.NewVersion(m[1])
}

// withSession appends the session flag last so the token never shifts
// positional arguments.
func withSession(s *backend.Session, args ...string) []string {
	if s.HasToken() {
		return append(args, "--session", s.Token())
	}
	return args
}

// requireLive fails fast for offline sessions.
func requireLive(s *backend.Session, backendName, op string) error {
	if s.Live() {
		return nil
	}
	return dserrors.New(dserrors.KindOfflineUnavailable, op, "offline mode has no live session").
		WithBackend(backendName).
		WithRemediation("unset VAULTSYNC_OFFLINE and retry")
}

// cliError folds stderr into the error text.
func cliError(err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" || strings.Contains(err.Error(), msg) {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
