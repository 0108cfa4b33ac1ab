// Package dispatcher implements the Tool Dispatcher (C4): it unifies the
// internal executors (SSH, SFTP, search, deploy) with remote MCP clients
// (Wazuh, Falcon, Velociraptor) behind one execute/list_tools surface.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hostwarden/control-plane/internal/config"
	"github.com/hostwarden/control-plane/internal/executors"
	"github.com/hostwarden/control-plane/internal/mcpclient"
	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Internal tool names, dispatched straight to C3 without touching any
// remote MCP client.
const (
	ToolExecuteHostCommand   = "execute_host_command"
	ToolUploadFileToHost     = "upload_file_to_host"
	ToolSearchWeb            = "search_web"
	ToolDeployMonitoringTask = "deploy_monitoring_task"
)

// velociraptorTools is the fixed, closed set of Velociraptor tool names,
// ported verbatim from the source dispatcher's VELOCIRAPTOR_TOOLS.
var velociraptorTools = map[string]struct{}{
	"client_info":                       {},
	"linux_pslist":                      {},
	"linux_groups":                      {},
	"linux_mounts":                      {},
	"linux_netstat_enriched":            {},
	"linux_users":                       {},
	"windows_pslist":                    {},
	"windows_netstat_enriched":          {},
	"windows_scheduled_tasks":           {},
	"windows_services":                  {},
	"windows_recentdocs":                {},
	"windows_shellbags":                 {},
	"windows_mounted_mass_storage_usb":  {},
	"windows_evidence_of_download":      {},
	"windows_mountpoints2":              {},
	"windows_execution_amcache":         {},
	"windows_execution_bam":             {},
	"windows_execution_activitiesCache": {},
	"windows_execution_userassist":      {},
	"windows_execution_shimcache":       {},
	"windows_execution_prefetch":        {},
	"windows_ntfs_mft":                  {},
	"get_collection_results":            {},
	"collect_artifact":                  {},
	"collect_forensic_triage":           {},
	"list_windows_artifacts":            {},
	"list_linux_artifacts":              {},
}

// Dispatcher routes tool_name/args pairs to the right executor or remote
// MCP client and aggregates the advertised tool catalog (§4.4).
type Dispatcher struct {
	Config store.ConfigStore
	MCP    config.MCPConfig

	SSH    *executors.SSHExecutor
	SFTP   *executors.SFTPExecutor
	Search *executors.SearchExecutor
	Deploy *executors.DeployExecutor

	HTTPTimeout time.Duration

	mu      sync.Mutex
	clients map[models.MCPProvider]*mcpclient.Client
}

func New(cfg store.ConfigStore, mcpCfg config.MCPConfig, ssh *executors.SSHExecutor, sftp *executors.SFTPExecutor, search *executors.SearchExecutor, deploy *executors.DeployExecutor, httpTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		Config:      cfg,
		MCP:         mcpCfg,
		SSH:         ssh,
		SFTP:        sftp,
		Search:      search,
		Deploy:      deploy,
		HTTPTimeout: httpTimeout,
		clients:     make(map[models.MCPProvider]*mcpclient.Client),
	}
}

// Execute routes one tool call by name, per spec.md §4.4's 5-step
// routing table. A panic inside an executor is recovered here, logged,
// and returned as an error.
func (d *Dispatcher) Execute(ctx context.Context, toolName string, args map[string]interface{}) (result map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("tool", toolName).Interface("panic", rec).Msg("dispatcher: tool execution panicked")
			result, err = nil, fmt.Errorf("dispatcher: tool %s panicked: %v", toolName, rec)
		}
	}()

	switch toolName {
	case ToolExecuteHostCommand:
		target, _ := args["target"].(string)
		command, _ := args["command"].(string)
		return map[string]interface{}(d.SSH.ExecuteHostCommand(ctx, target, command)), nil
	case ToolUploadFileToHost:
		target, _ := args["target"].(string)
		remotePath, _ := args["remote_path"].(string)
		contentB64, _ := args["content_b64"].(string)
		return map[string]interface{}(d.SFTP.UploadFileToHost(ctx, target, remotePath, contentB64)), nil
	case ToolSearchWeb:
		query, _ := args["query"].(string)
		return map[string]interface{}(d.Search.Search(ctx, query)), nil
	case ToolDeployMonitoringTask:
		deployArgs, err := decodeDeployArgs(args)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}(d.Deploy.DeployMonitoringTask(ctx, deployArgs)), nil
	}

	provider := providerFor(toolName)
	client, err := d.clientFor(provider)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, toolName, args)
}

// providerFor implements spec.md §4.4 steps 2-4: falcon_-prefixed names
// go to Falcon, the fixed Velociraptor set goes to Velociraptor, and
// everything else falls through to Wazuh.
func providerFor(toolName string) models.MCPProvider {
	if strings.HasPrefix(toolName, "falcon_") {
		return models.MCPProviderFalcon
	}
	if _, ok := velociraptorTools[toolName]; ok {
		return models.MCPProviderVelociraptor
	}
	return models.MCPProviderWazuh
}

// clientFor lazily registers a remote MCP client at its well-known
// internal URL the first time a provider is addressed.
func (d *Dispatcher) clientFor(provider models.MCPProvider) (*mcpclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[provider]; ok {
		return c, nil
	}

	var baseURL string
	switch provider {
	case models.MCPProviderWazuh:
		baseURL = d.MCP.WazuhURL
	case models.MCPProviderFalcon:
		baseURL = d.MCP.FalconURL
	case models.MCPProviderVelociraptor:
		baseURL = d.MCP.VelociraptorURL
	default:
		return nil, fmt.Errorf("no well-known URL for mcp provider %q", provider)
	}

	client := mcpclient.New(baseURL, "", "", d.HTTPTimeout)
	d.clients[provider] = client
	return client, nil
}

// ListTools builds the full advertised catalog: internal tools first,
// gated on the ssh_exec/tavily provider enable flags (deploy_monitoring_task
// additionally gated on builder modes), then each enabled remote provider's
// tools, or an `_offline_<provider>` placeholder when that provider's
// list_tools call fails.
func (d *Dispatcher) ListTools(ctx context.Context, mode string) ([]models.ToolDescriptor, error) {
	cfg, err := d.Config.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: load config: %w", err)
	}

	var tools []models.ToolDescriptor
	if internalProviderEnabled(cfg, models.MCPProviderSSHExec) {
		tools = append(tools,
			models.ToolDescriptor{Name: ToolExecuteHostCommand, Description: "Run a shell command on a registered asset over SSH.", Provider: "SSH Exec"},
			models.ToolDescriptor{Name: ToolUploadFileToHost, Description: "Upload a file to a registered asset over SFTP.", Provider: "SSH Exec"},
		)
		if strings.HasPrefix(mode, "builder") {
			tools = append(tools, models.ToolDescriptor{Name: ToolDeployMonitoringTask, Description: "Persist a new monitoring task.", Provider: "SSH Exec"})
		}
	}
	if internalProviderEnabled(cfg, models.MCPProviderTavily) {
		tools = append(tools, models.ToolDescriptor{Name: ToolSearchWeb, Description: "Search the web for supporting context.", Provider: "Web Search"})
	}

	for _, provider := range []models.MCPProvider{models.MCPProviderWazuh, models.MCPProviderFalcon, models.MCPProviderVelociraptor} {
		providerCfg, enabled := cfg.MCPProviders[provider]
		if !enabled || !providerCfg.Enabled {
			continue
		}
		client, err := d.clientFor(provider)
		if err != nil {
			tools = append(tools, offlinePlaceholder(provider, err))
			continue
		}
		remoteTools, err := client.ListTools(ctx)
		if err != nil {
			tools = append(tools, offlinePlaceholder(provider, err))
			continue
		}
		for i := range remoteTools {
			remoteTools[i].Provider = string(provider)
			tools = append(tools, remoteTools[i])
		}
	}

	return tools, nil
}

// internalProviderEnabled reports whether the ssh_exec/tavily internal
// tool group should be listed. Unconfigured means enabled, matching the
// source dispatcher's mcp_enabled defaults, which start true and are only
// overridden when the provider is explicitly present in the saved config.
func internalProviderEnabled(cfg *models.SystemConfig, provider models.MCPProvider) bool {
	providerCfg, ok := cfg.MCPProviders[provider]
	if !ok {
		return true
	}
	return providerCfg.Enabled
}

func offlinePlaceholder(provider models.MCPProvider, cause error) models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:        fmt.Sprintf("_offline_%s", provider),
		Description: fmt.Sprintf("%s is currently unreachable: %v", provider, cause),
		Provider:    string(provider),
		Offline:     true,
	}
}

func decodeDeployArgs(args map[string]interface{}) (executors.DeployMonitoringTaskArgs, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return executors.DeployMonitoringTaskArgs{}, fmt.Errorf("dispatcher: encode deploy args: %w", err)
	}
	var out executors.DeployMonitoringTaskArgs
	if err := json.Unmarshal(raw, &out); err != nil {
		return executors.DeployMonitoringTaskArgs{}, fmt.Errorf("dispatcher: decode deploy args: %w", err)
	}
	return out, nil
}
