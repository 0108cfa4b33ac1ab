package executors

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

// ── rewriteForSudo (ssh.go) ──────────────────────────────────

func TestRewriteForSudo_NonSudoCommandUnchanged(t *testing.T) {
	rewritten, needsPassword := rewriteForSudo("ls -la", &models.Asset{User: "deploy"})
	require.Equal(t, "ls -la", rewritten)
	require.False(t, needsPassword)
}

func TestRewriteForSudo_RootStripsSudo(t *testing.T) {
	rewritten, needsPassword := rewriteForSudo("sudo systemctl restart nginx", &models.Asset{User: "root"})
	require.Equal(t, "systemctl restart nginx", rewritten)
	require.False(t, needsPassword)
}

func TestRewriteForSudo_WindowsLeftUntouched(t *testing.T) {
	rewritten, needsPassword := rewriteForSudo("sudo something", &models.Asset{User: "admin", OS: models.AssetOSWindows})
	require.Equal(t, "sudo something", rewritten)
	require.False(t, needsPassword)
}

func TestRewriteForSudo_NonRootLinuxRewritesWithStdinFlag(t *testing.T) {
	rewritten, needsPassword := rewriteForSudo("sudo systemctl restart nginx", &models.Asset{User: "deploy", OS: models.AssetOSLinux})
	require.Equal(t, "sudo -S systemctl restart nginx", rewritten)
	require.True(t, needsPassword)
}

// ── parsePrivateKeyMultiAlgorithm (keys.go) ──────────────────

func TestParsePrivateKeyMultiAlgorithm_ValidRSASucceeds(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}
	pemText := string(pem.EncodeToMemory(block))

	signer, err := parsePrivateKeyMultiAlgorithm(pemText)
	require.NoError(t, err)
	require.NotNil(t, signer)
}

func TestParsePrivateKeyMultiAlgorithm_GarbageReportsAllAttempts(t *testing.T) {
	_, err := parsePrivateKeyMultiAlgorithm("not a pem key at all")
	require.ErrorIs(t, err, ErrKeyParseFailed)
	require.Contains(t, err.Error(), "rsa")
	require.Contains(t, err.Error(), "ed25519")
	require.Contains(t, err.Error(), "dss")
}

// ── DeployExecutor.DeployMonitoringTask (deploy.go) ──────────

func newTestDeployExecutor(t *testing.T) (*DeployExecutor, store.Store) {
	t.Helper()
	t.Setenv("HOSTWARDEN_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return NewDeployExecutor(s), s
}

func TestDeployMonitoringTask_RequiresCoreFields(t *testing.T) {
	e, _ := newTestDeployExecutor(t)
	result := e.DeployMonitoringTask(context.Background(), DeployMonitoringTaskArgs{})
	require.Equal(t, "error", result["status"])
}

func TestDeployMonitoringTask_RejectsNonJSONThreshold(t *testing.T) {
	e, _ := newTestDeployExecutor(t)
	result := e.DeployMonitoringTask(context.Background(), DeployMonitoringTaskArgs{
		Title:              "disk check",
		ToolName:           "execute_host_command",
		ThresholdCondition: "not json",
	})
	require.Equal(t, "error", result["status"])
}

func TestDeployMonitoringTask_DefaultsIntervalAndTarget(t *testing.T) {
	e, s := newTestDeployExecutor(t)
	result := e.DeployMonitoringTask(context.Background(), DeployMonitoringTaskArgs{
		Title:              "disk check",
		ToolName:           "execute_host_command",
		ThresholdCondition: `{"mode":"numeric_threshold"}`,
	})
	require.Equal(t, "success", result["status"])

	taskID, ok := result["task_id"].(string)
	require.True(t, ok)
	task, err := s.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, 1, task.IntervalMinutes)
	require.Equal(t, models.TargetAll, task.TargetAgent)
	require.True(t, task.Enabled)
}

// ── SearchExecutor.resolveAPIKey (search.go) ─────────────────

type stubConfigStoreForSearch struct {
	cfg *models.SystemConfig
}

func (s *stubConfigStoreForSearch) GetConfig(ctx context.Context) (*models.SystemConfig, error) {
	return s.cfg, nil
}
func (s *stubConfigStoreForSearch) SaveConfig(ctx context.Context, cfg *models.SystemConfig) error {
	s.cfg = cfg
	return nil
}

func TestResolveAPIKey_PrefersNamedEnvVar(t *testing.T) {
	t.Setenv("MY_TAVILY_KEY", "from-named-env")
	t.Setenv("SEARCH_API_KEY", "from-generic-env")
	e := NewSearchExecutor(&stubConfigStoreForSearch{cfg: &models.SystemConfig{}}, "MY_TAVILY_KEY", 0)
	require.Equal(t, "from-named-env", e.resolveAPIKey(context.Background()))
}

func TestResolveAPIKey_FallsBackToGenericEnvVar(t *testing.T) {
	t.Setenv("SEARCH_API_KEY", "from-generic-env")
	e := NewSearchExecutor(&stubConfigStoreForSearch{cfg: &models.SystemConfig{}}, "UNSET_NAMED_KEY", 0)
	require.Equal(t, "from-generic-env", e.resolveAPIKey(context.Background()))
}

func TestResolveAPIKey_FallsBackToConfigStore(t *testing.T) {
	cfg := &models.SystemConfig{
		MCPProviders: map[models.MCPProvider]models.MCPProviderConfig{
			models.MCPProviderTavily: {APIKey: "from-config-store"},
		},
	}
	e := NewSearchExecutor(&stubConfigStoreForSearch{cfg: cfg}, "UNSET_NAMED_KEY", 0)
	require.Equal(t, "from-config-store", e.resolveAPIKey(context.Background()))
}

func TestSearch_DisabledWhenNoKeyAnywhere(t *testing.T) {
	e := NewSearchExecutor(&stubConfigStoreForSearch{cfg: &models.SystemConfig{}}, "UNSET_NAMED_KEY", 0)
	result := e.Search(context.Background(), "cve-2024")
	require.Equal(t, "error", result["status"])
	require.Contains(t, result["message"], "disabled")
}
