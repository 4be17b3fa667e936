package install

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fae-ai/fae-pi/internal/observability"
)

// Kind classifies how the Pi binary on this machine is provisioned.
type Kind string

const (
	// KindNotFound means no usable Pi binary was located.
	KindNotFound Kind = "not_found"
	// KindUserInstalled means a Pi binary was found on PATH that we do not
	// manage; it is never updated or replaced.
	KindUserInstalled Kind = "user_installed"
	// KindFaeManaged means the binary lives in our install directory and
	// carries our marker file; we own its lifecycle.
	KindFaeManaged Kind = "fae_managed"
)

// State describes the detected Pi installation.
type State struct {
	Kind    Kind
	Path    string
	Version string
}

// UpdateCheck is the result of comparing the local managed binary against
// the latest published release.
type UpdateCheck struct {
	Current   string
	Latest    string
	Available bool
}

// markerName is the file written next to our state that records the version
// of a managed install. Its presence is what distinguishes a managed binary
// from one the user happened to drop into the same directory.
const markerName = "pi.managed"

// shimFragments are path substrings that identify package-manager shims.
// Those wrappers re-exec through an interpreter and break --version probing,
// so PATH hits under them are ignored.
var shimFragments = []string{"homebrew", "linuxbrew", "node_modules"}

// Manager locates, installs and updates the Pi binary.
type Manager struct {
	fs         afero.Fs
	releases   *ReleaseClient
	installDir string
	stateDir   string
	logger     *zap.Logger
	metrics    *observability.Metrics

	goos   string
	goarch string

	lookPath        func(name string) (string, error)
	executableDir   func() (string, error)
	probeVersion    func(ctx context.Context, path string) (string, error)
	clearQuarantine func(path string) error
	wrapDownload    func(r io.Reader, total int64) io.ReadCloser
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithFS substitutes the filesystem, used by tests to run against memory.
func WithFS(fs afero.Fs) ManagerOption {
	return func(m *Manager) { m.fs = fs }
}

// WithManagerMetrics attaches install metrics.
func WithManagerMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithPlatform overrides the target platform for asset selection.
func WithPlatform(goos, goarch string) ManagerOption {
	return func(m *Manager) { m.goos, m.goarch = goos, goarch }
}

// WithLookPath overrides PATH lookup.
func WithLookPath(fn func(name string) (string, error)) ManagerOption {
	return func(m *Manager) { m.lookPath = fn }
}

// WithExecutableDir overrides discovery of the host executable's directory,
// which anchors the search for a bundled Pi binary.
func WithExecutableDir(fn func() (string, error)) ManagerOption {
	return func(m *Manager) { m.executableDir = fn }
}

// WithVersionProbe overrides how a binary's version is determined.
func WithVersionProbe(fn func(ctx context.Context, path string) (string, error)) ManagerOption {
	return func(m *Manager) { m.probeVersion = fn }
}

// WithQuarantineClear overrides removal of the platform download quarantine.
func WithQuarantineClear(fn func(path string) error) ManagerOption {
	return func(m *Manager) { m.clearQuarantine = fn }
}

// WithDownloadWrapper decorates download streams, e.g. with a progress bar.
func WithDownloadWrapper(fn func(r io.Reader, total int64) io.ReadCloser) ManagerOption {
	return func(m *Manager) { m.wrapDownload = fn }
}

// DefaultInstallDir is where managed binaries go when no override is
// configured.
func DefaultInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".fae", "bin")
	}
	return filepath.Join(home, ".fae", "bin")
}

// DefaultStateDir holds the install marker when no override is configured.
func DefaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".fae")
	}
	return filepath.Join(dir, "fae")
}

// NewManager builds a Manager rooted at installDir with marker state under
// stateDir.
func NewManager(installDir, stateDir string, releases *ReleaseClient, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		fs:              afero.NewOsFs(),
		releases:        releases,
		installDir:      installDir,
		stateDir:        stateDir,
		logger:          logger,
		goos:            runtime.GOOS,
		goarch:          runtime.GOARCH,
		lookPath:        exec.LookPath,
		clearQuarantine: clearQuarantineAttr,
	}
	m.executableDir = defaultExecutableDir
	m.probeVersion = m.execVersionProbe
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BinaryName is the Pi executable's filename on this platform.
func (m *Manager) BinaryName() string {
	if m.goos == "windows" {
		return "pi.exe"
	}
	return "pi"
}

func (m *Manager) managedPath() string {
	return filepath.Join(m.installDir, m.BinaryName())
}

func (m *Manager) markerPath() string {
	return filepath.Join(m.stateDir, markerName)
}

// Detect reports where Pi is installed and who manages it. A binary in our
// install directory counts as managed only when the marker file exists;
// otherwise PATH is consulted, skipping package-manager shims.
func (m *Manager) Detect(ctx context.Context) (State, error) {
	managed := m.managedPath()
	if ok, _ := afero.Exists(m.fs, managed); ok {
		if marker, err := afero.ReadFile(m.fs, m.markerPath()); err == nil {
			version := strings.TrimSpace(string(marker))
			if version == "" {
				version, _ = m.probeVersion(ctx, managed)
			}
			return State{Kind: KindFaeManaged, Path: managed, Version: version}, nil
		}
		// Binary present without our marker: treat it as the user's.
		version, _ := m.probeVersion(ctx, managed)
		return State{Kind: KindUserInstalled, Path: managed, Version: version}, nil
	}

	if path, err := m.lookPath(m.BinaryName()); err == nil && !isShimPath(path) {
		version, err := m.probeVersion(ctx, path)
		if err != nil {
			m.logger.Debug("version probe failed", zap.String("path", path), zap.Error(err))
		}
		return State{Kind: KindUserInstalled, Path: path, Version: version}, nil
	}

	return State{Kind: KindNotFound}, nil
}

func isShimPath(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, frag := range shimFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Ensure makes a Pi binary available. An existing install of either kind is
// returned untouched. When nothing is found, a binary bundled with the host
// application is installed regardless of autoInstall; that flag only gates
// the network fallback of downloading the latest release. Without either
// source a NotFound state is returned without error so callers can surface
// guidance.
func (m *Manager) Ensure(ctx context.Context, autoInstall bool) (State, error) {
	state, err := m.Detect(ctx)
	if err != nil {
		return state, err
	}
	if state.Kind != KindNotFound {
		return state, nil
	}

	if bundled, ok := m.findBundled(); ok {
		state, err := m.installBundled(ctx, bundled)
		if err == nil {
			m.metrics.RecordInstallOp("ensure_bundled", "ok")
			return state, nil
		}
		m.metrics.RecordInstallOp("ensure_bundled", "error")
		if !autoInstall {
			m.logger.Warn("bundled install failed and auto_install is off",
				zap.String("bundled", bundled), zap.Error(err))
			return State{Kind: KindNotFound}, nil
		}
		m.logger.Warn("bundled install failed, falling back to download",
			zap.String("bundled", bundled), zap.Error(err))
	}

	if !autoInstall {
		return State{Kind: KindNotFound}, nil
	}

	state, err = m.installLatest(ctx)
	if err != nil {
		m.metrics.RecordInstallOp("ensure_download", "error")
		return State{Kind: KindNotFound}, err
	}
	m.metrics.RecordInstallOp("ensure_download", "ok")
	return state, nil
}

// CheckUpdate compares the detected install against the latest release.
func (m *Manager) CheckUpdate(ctx context.Context) (UpdateCheck, error) {
	state, err := m.Detect(ctx)
	if err != nil {
		return UpdateCheck{}, err
	}
	if state.Kind == KindNotFound {
		return UpdateCheck{}, fmt.Errorf("no pi binary installed")
	}

	rel, err := m.releases.Latest(ctx)
	if err != nil {
		return UpdateCheck{}, err
	}
	latest := rel.Version()
	return UpdateCheck{
		Current:   state.Version,
		Latest:    latest,
		Available: VersionIsNewer(state.Version, latest),
	}, nil
}

// Update replaces a managed install with the latest release. An install we do
// not manage is left alone; the call logs the skip and returns the detected
// state unchanged.
func (m *Manager) Update(ctx context.Context) (State, error) {
	state, err := m.Detect(ctx)
	if err != nil {
		return state, err
	}
	if state.Kind != KindFaeManaged {
		m.logger.Info("skipping update, pi install is not managed here",
			zap.String("kind", string(state.Kind)), zap.String("path", state.Path))
		m.metrics.RecordInstallOp("update", "skipped")
		return state, nil
	}

	updated, err := m.installLatest(ctx)
	if err != nil {
		m.metrics.RecordInstallOp("update", "error")
		return state, err
	}
	m.metrics.RecordInstallOp("update", "ok")
	return updated, nil
}

// findBundled looks for a Pi binary shipped alongside the host executable.
// macOS app bundles keep resources in ../Resources relative to the binary.
func (m *Manager) findBundled() (string, bool) {
	dir, err := m.executableDir()
	if err != nil {
		return "", false
	}
	candidates := []string{filepath.Join(dir, m.BinaryName())}
	if m.goos == "darwin" {
		candidates = append(candidates, filepath.Join(dir, "..", "Resources", m.BinaryName()))
	}
	for _, c := range candidates {
		if ok, _ := afero.Exists(m.fs, c); ok {
			return c, true
		}
	}
	return "", false
}

func (m *Manager) installBundled(ctx context.Context, bundled string) (State, error) {
	if err := m.fs.MkdirAll(m.installDir, 0o755); err != nil {
		return State{}, fmt.Errorf("create install dir %s: %w", m.installDir, err)
	}
	dest := m.managedPath()
	if err := copyFile(m.fs, bundled, dest, 0o755); err != nil {
		return State{}, fmt.Errorf("copy bundled binary: %w", err)
	}
	return m.finishInstall(ctx, dest, "")
}

func (m *Manager) installLatest(ctx context.Context) (State, error) {
	rel, err := m.releases.Latest(ctx)
	if err != nil {
		return State{}, err
	}
	asset, ok := rel.AssetFor(m.goos, m.goarch)
	if !ok {
		return State{}, fmt.Errorf("no release asset for %s/%s", m.goos, m.goarch)
	}

	if err := m.fs.MkdirAll(m.installDir, 0o755); err != nil {
		return State{}, fmt.Errorf("create install dir %s: %w", m.installDir, err)
	}

	tmp, err := afero.TempFile(m.fs, "", "pi-download-*"+archiveSuffix(asset.Name))
	if err != nil {
		return State{}, fmt.Errorf("create download temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer m.fs.Remove(tmpPath)

	err = m.releases.Download(ctx, asset, tmp, m.wrapDownload)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return State{}, err
	}

	dest, err := extractBinary(m.fs, tmpPath, m.BinaryName(), m.installDir)
	if err != nil {
		return State{}, err
	}
	return m.finishInstall(ctx, dest, rel.Version())
}

// finishInstall applies permissions, clears the download quarantine and
// records the marker. The version probe fills in the marker content when the
// release version is unknown (bundled installs).
func (m *Manager) finishInstall(ctx context.Context, dest, version string) (State, error) {
	if err := m.fs.Chmod(dest, 0o755); err != nil {
		return State{}, fmt.Errorf("chmod %s: %w", dest, err)
	}
	if err := m.clearQuarantine(dest); err != nil {
		m.logger.Debug("clearing quarantine failed", zap.String("path", dest), zap.Error(err))
	}
	if version == "" {
		version, _ = m.probeVersion(ctx, dest)
	}
	if err := m.fs.MkdirAll(m.stateDir, 0o755); err != nil {
		return State{}, fmt.Errorf("create state dir %s: %w", m.stateDir, err)
	}
	if err := afero.WriteFile(m.fs, m.markerPath(), []byte(version+"\n"), 0o644); err != nil {
		return State{}, fmt.Errorf("write install marker: %w", err)
	}
	m.logger.Info("installed pi binary",
		zap.String("path", dest), zap.String("version", version))
	return State{Kind: KindFaeManaged, Path: dest, Version: version}, nil
}

func (m *Manager) execVersionProbe(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("probe %s --version: %w", path, err)
	}
	v := ParseVersionOutput(string(out))
	if v == "" {
		return "", fmt.Errorf("no version in output of %s --version", path)
	}
	return v, nil
}

func defaultExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func archiveSuffix(name string) string {
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return ".tar.gz"
	case strings.HasSuffix(name, ".tgz"):
		return ".tgz"
	case strings.HasSuffix(name, ".zip"):
		return ".zip"
	default:
		return filepath.Ext(name)
	}
}
