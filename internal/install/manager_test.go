package install

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	testInstallDir = "/opt/fae/bin"
	testStateDir   = "/home/u/.config/fae"
)

func noLookPath(string) (string, error) {
	return "", errors.New("not found on PATH")
}

func fixedProbe(version string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return version, nil }
}

func newTestManager(t *testing.T, releases *ReleaseClient, opts ...ManagerOption) (*Manager, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	base := []ManagerOption{
		WithFS(fs),
		WithPlatform("linux", "amd64"),
		WithLookPath(noLookPath),
		WithExecutableDir(func() (string, error) { return "", errors.New("no executable") }),
		WithVersionProbe(fixedProbe("0.52.9")),
		WithQuarantineClear(func(string) error { return nil }),
	}
	m := NewManager(testInstallDir, testStateDir, releases, nil, append(base, opts...)...)
	return m, fs
}

func TestDetectNothingInstalled(t *testing.T) {
	m, _ := newTestManager(t, nil)

	state, err := m.Detect(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindNotFound, state.Kind)
	require.Empty(t, state.Path)
}

func TestDetectManagedInstallReadsMarker(t *testing.T) {
	m, fs := newTestManager(t, nil)
	require.NoError(t, afero.WriteFile(fs, testInstallDir+"/pi", []byte("bin"), 0o755))
	require.NoError(t, afero.WriteFile(fs, testStateDir+"/pi.managed", []byte("0.53.0\n"), 0o644))

	state, err := m.Detect(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindFaeManaged, state.Kind)
	require.Equal(t, testInstallDir+"/pi", state.Path)
	require.Equal(t, "0.53.0", state.Version)
}

func TestDetectBinaryWithoutMarkerIsUserInstalled(t *testing.T) {
	m, fs := newTestManager(t, nil)
	require.NoError(t, afero.WriteFile(fs, testInstallDir+"/pi", []byte("bin"), 0o755))

	state, err := m.Detect(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindUserInstalled, state.Kind)
	require.Equal(t, "0.52.9", state.Version)
}

func TestDetectPathInstall(t *testing.T) {
	m, _ := newTestManager(t, nil, WithLookPath(func(string) (string, error) {
		return "/usr/local/bin/pi", nil
	}))

	state, err := m.Detect(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindUserInstalled, state.Kind)
	require.Equal(t, "/usr/local/bin/pi", state.Path)
}

func TestDetectIgnoresPackageManagerShims(t *testing.T) {
	for _, shim := range []string{
		"/opt/homebrew/bin/pi",
		"/home/linuxbrew/.linuxbrew/bin/pi",
		"/srv/app/node_modules/.bin/pi",
	} {
		m, _ := newTestManager(t, nil, WithLookPath(func(string) (string, error) {
			return shim, nil
		}))
		state, err := m.Detect(context.Background())
		require.NoError(t, err)
		require.Equal(t, KindNotFound, state.Kind, "shim path %s must be skipped", shim)
	}
}

func TestEnsureWithoutAutoInstallReturnsNotFound(t *testing.T) {
	m, _ := newTestManager(t, nil)

	state, err := m.Ensure(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, KindNotFound, state.Kind)
}

func TestEnsureLeavesExistingInstallAlone(t *testing.T) {
	m, fs := newTestManager(t, nil, WithLookPath(func(string) (string, error) {
		return "/usr/local/bin/pi", nil
	}))

	state, err := m.Ensure(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, KindUserInstalled, state.Kind)

	ok, _ := afero.Exists(fs, testInstallDir+"/pi")
	require.False(t, ok, "ensure must not install over a user binary")
}

func TestEnsureInstallsBundledBinary(t *testing.T) {
	m, fs := newTestManager(t, nil, WithExecutableDir(func() (string, error) {
		return "/app", nil
	}))
	require.NoError(t, afero.WriteFile(fs, "/app/pi", []byte("bundled"), 0o755))

	state, err := m.Ensure(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, KindFaeManaged, state.Kind)
	require.Equal(t, testInstallDir+"/pi", state.Path)
	require.Equal(t, "0.52.9", state.Version, "version comes from the probe")

	marker, err := afero.ReadFile(fs, testStateDir+"/pi.managed")
	require.NoError(t, err)
	require.Contains(t, string(marker), "0.52.9")

	got, err := afero.ReadFile(fs, testInstallDir+"/pi")
	require.NoError(t, err)
	require.Equal(t, []byte("bundled"), got)
}

func TestEnsureInstallsBundledBinaryWithoutAutoInstall(t *testing.T) {
	m, fs := newTestManager(t, nil, WithExecutableDir(func() (string, error) {
		return "/app", nil
	}))
	require.NoError(t, afero.WriteFile(fs, "/app/pi", []byte("bundled"), 0o755))

	// auto_install only gates network downloads; the shipped binary is used
	// either way.
	state, err := m.Ensure(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, KindFaeManaged, state.Kind)
	require.Equal(t, testInstallDir+"/pi", state.Path)

	marker, err := afero.ReadFile(fs, testStateDir+"/pi.managed")
	require.NoError(t, err)
	require.Contains(t, string(marker), "0.52.9")
}

func releaseServer(t *testing.T, tag string, binary []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Release{
			TagName: tag,
			Assets: []Asset{{
				Name:               "pi-linux-x64.tar.gz",
				BrowserDownloadURL: srv.URL + "/asset",
			}},
		})
	})
	mux.HandleFunc("/asset", func(w http.ResponseWriter, r *http.Request) {
		w.Write(tarGzWith(t, map[string][]byte{"pi": binary}))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureDownloadsLatestRelease(t *testing.T) {
	srv := releaseServer(t, "v0.53.0", []byte("downloaded"))
	releases := NewReleaseClient(srv.URL+"/latest", time.Second, nil)
	m, fs := newTestManager(t, releases)

	state, err := m.Ensure(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, KindFaeManaged, state.Kind)
	require.Equal(t, "0.53.0", state.Version, "version comes from the release tag")

	got, err := afero.ReadFile(fs, testInstallDir+"/pi")
	require.NoError(t, err)
	require.Equal(t, []byte("downloaded"), got)
}

func TestEnsureFallsBackToDownloadWithoutBundledBinary(t *testing.T) {
	srv := releaseServer(t, "v0.53.0", []byte("downloaded"))
	releases := NewReleaseClient(srv.URL+"/latest", time.Second, nil)
	m, _ := newTestManager(t, releases, WithExecutableDir(func() (string, error) {
		// No binary exists under /app, so ensure goes straight to the network.
		return "/app", nil
	}))

	state, err := m.Ensure(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, KindFaeManaged, state.Kind)
	require.Equal(t, "0.53.0", state.Version)
}

func TestCheckUpdateComparesVersions(t *testing.T) {
	srv := releaseServer(t, "v0.53.0", []byte("x"))
	releases := NewReleaseClient(srv.URL+"/latest", time.Second, nil)
	m, fs := newTestManager(t, releases)
	require.NoError(t, afero.WriteFile(fs, testInstallDir+"/pi", []byte("bin"), 0o755))
	require.NoError(t, afero.WriteFile(fs, testStateDir+"/pi.managed", []byte("0.52.9\n"), 0o644))

	check, err := m.CheckUpdate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.52.9", check.Current)
	require.Equal(t, "0.53.0", check.Latest)
	require.True(t, check.Available)
}

func TestCheckUpdateNothingNewer(t *testing.T) {
	srv := releaseServer(t, "v0.52.9", []byte("x"))
	releases := NewReleaseClient(srv.URL+"/latest", time.Second, nil)
	m, fs := newTestManager(t, releases)
	require.NoError(t, afero.WriteFile(fs, testInstallDir+"/pi", []byte("bin"), 0o755))
	require.NoError(t, afero.WriteFile(fs, testStateDir+"/pi.managed", []byte("0.52.9\n"), 0o644))

	check, err := m.CheckUpdate(context.Background())
	require.NoError(t, err)
	require.False(t, check.Available)
}

func TestUpdateLeavesUserInstallAlone(t *testing.T) {
	m, fs := newTestManager(t, nil, WithLookPath(func(string) (string, error) {
		return "/usr/local/bin/pi", nil
	}))

	state, err := m.Update(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindUserInstalled, state.Kind)
	require.Equal(t, "/usr/local/bin/pi", state.Path)

	ok, _ := afero.Exists(fs, testInstallDir+"/pi")
	require.False(t, ok, "update must not install over a user binary")
}

func TestUpdateReplacesManagedInstall(t *testing.T) {
	srv := releaseServer(t, "v0.53.0", []byte("new binary"))
	releases := NewReleaseClient(srv.URL+"/latest", time.Second, nil)
	m, fs := newTestManager(t, releases)
	require.NoError(t, afero.WriteFile(fs, testInstallDir+"/pi", []byte("old binary"), 0o755))
	require.NoError(t, afero.WriteFile(fs, testStateDir+"/pi.managed", []byte("0.52.9\n"), 0o644))

	state, err := m.Update(context.Background())
	require.NoError(t, err)
	require.Equal(t, KindFaeManaged, state.Kind)
	require.Equal(t, "0.53.0", state.Version)

	got, err := afero.ReadFile(fs, testInstallDir+"/pi")
	require.NoError(t, err)
	require.Equal(t, []byte("new binary"), got)

	marker, err := afero.ReadFile(fs, testStateDir+"/pi.managed")
	require.NoError(t, err)
	require.Contains(t, string(marker), "0.53.0")
}
