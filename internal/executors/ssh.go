package executors

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hostwarden/control-plane/internal/store"
	"github.com/hostwarden/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

const sshDialTimeout = 30 * time.Second

// SSHExecutor runs commands on registered assets over SSH. It implements
// the sudo policy and multi-algorithm key handling described in §4.3.1.
type SSHExecutor struct {
	Assets store.AssetStore
	Keys   store.KeyStore
}

func NewSSHExecutor(assets store.AssetStore, keys store.KeyStore) *SSHExecutor {
	return &SSHExecutor{Assets: assets, Keys: keys}
}

var sudoPrefixRe = regexp.MustCompile(`^\s*sudo\s+(?:-S\s+)?`)

// rewriteForSudo applies the sudo policy state machine: root users never
// need sudo and have it stripped; non-root users on a non-Windows asset
// get their sudo invocation rewritten to read the password from stdin
// via -S; Windows assets are left untouched since sudo has no meaning
// there.
func rewriteForSudo(command string, asset *models.Asset) (rewritten string, needsPassword bool) {
	hasSudo := sudoPrefixRe.MatchString(command)
	if !hasSudo {
		return command, false
	}
	if asset.User == "root" {
		return sudoPrefixRe.ReplaceAllString(command, ""), false
	}
	if asset.OS == models.AssetOSWindows {
		return command, false
	}
	stripped := sudoPrefixRe.ReplaceAllString(command, "")
	return fmt.Sprintf("sudo -S %s", stripped), true
}

// ExecuteHostCommand resolves target, authenticates, applies the sudo
// policy, and runs one command, returning output or a {status:"error"}
// Result — it never returns a Go error across the dispatcher boundary.
func (e *SSHExecutor) ExecuteHostCommand(ctx context.Context, target, command string) Result {
	asset, err := resolveAsset(ctx, e.Assets, target)
	if err != nil {
		return errResult("%s", err)
	}

	authMethods, err := authMethodsFor(ctx, e.Keys, asset)
	if err != nil {
		return errResult("%s", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            asset.User,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is out of scope, see DESIGN.md
		Timeout:         sshDialTimeout,
	}

	port := asset.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", asset.IP, port)

	ctx, cancel := context.WithTimeout(ctx, sshDialTimeout)
	defer cancel()

	conn, err := dialSSHContext(ctx, addr, clientConfig)
	if err != nil {
		return errResult("ssh dial failed for %s: %v", target, err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return errResult("ssh session failed for %s: %v", target, err)
	}
	defer session.Close()

	finalCommand, needsPassword := rewriteForSudo(command, asset)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if needsPassword {
		stdin, err := session.StdinPipe()
		if err != nil {
			return errResult("ssh stdin pipe failed for %s: %v", target, err)
		}
		if err := session.Start(finalCommand); err != nil {
			return errResult("ssh command start failed on %s: %v", target, err)
		}
		fmt.Fprintf(stdin, "%s\n", asset.Password)
		stdin.Close()
		err = session.Wait()
		if err != nil {
			// one retry with the sudo prefix removed when the sudo -S
			// attempt exits non-zero.
			log.Debug().Str("target", target).Msg("sudo -S attempt failed, retrying without sudo")
			return e.retryWithoutSudo(conn, target, command)
		}
	} else {
		if err := session.Run(finalCommand); err != nil {
			return errResult("command failed on %s: %v: %s", target, err, stderr.String())
		}
	}

	return Result{
		"status":  "success",
		"target":  target,
		"command": command,
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
	}
}

// retryWithoutSudo falls back to running the command with its sudo
// prefix removed on a fresh session, after the -S/stdin-password attempt
// exited non-zero.
func (e *SSHExecutor) retryWithoutSudo(conn *ssh.Client, target, command string) Result {
	session, err := conn.NewSession()
	if err != nil {
		return errResult("ssh retry session failed for %s: %v", target, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(sudoPrefixRe.ReplaceAllString(command, "")); err != nil {
		return errResult("command failed on %s after sudo retry: %v: %s", target, err, stderr.String())
	}
	return Result{
		"status":  "success",
		"target":  target,
		"command": command,
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
	}
}

// dialSSHContext is ssh.Dial with context cancellation honored during
// the TCP+handshake phase, since ssh.Dial itself ignores ctx.
func dialSSHContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, config)
		ch <- result{client, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}
