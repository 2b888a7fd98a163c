// Package openpgp wraps an external OpenPGP tool (gpg by default) behind
// a narrow interface: verify, verify-detached, sign, import-key, and
// refresh-keys. No OpenPGP cryptography is implemented in-process; every
// operation shells out, piping the payload on stdin and reading a
// machine-readable status stream back on an extra pipe.
package openpgp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/projg2/gemato-go/internal/logging"
)

// toolPathEnv names the environment variable that overrides the default
// tool binary. If it names a binary that cannot be found, OpenPGP
// features are disabled at construction time rather than at first use.
const toolPathEnv = "GEMATO_OPENPGP_TOOL"

const defaultTool = "gpg"

// Envelope is a handle to an external OpenPGP tool, scoped to either the
// caller's ambient keyring ("system") or a private, temporary home
// directory ("isolated").
type Envelope struct {
	toolPath  string
	homeDir   string
	isolated  bool
	available bool

	httpClient *http.Client
}

// NewSystemEnvelope probes for the configured tool using the ambient
// keyring. Available reports false, rather than an error, if the tool
// cannot be found: callers are expected to check Available and degrade
// gracefully.
func NewSystemEnvelope() *Envelope {
	path := resolveToolPath()
	return &Envelope{toolPath: path, available: probeTool(path), httpClient: http.DefaultClient}
}

// NewIsolatedEnvelope creates an ephemeral home directory, importing only
// the keys given. The caller must call Close to remove the temporary
// directory; it is safe to call Close even if construction failed
// partway.
func NewIsolatedEnvelope(keys ...[]byte) (*Envelope, error) {
	path := resolveToolPath()
	if !probeTool(path) {
		return &Envelope{toolPath: path, available: false}, nil
	}
	home, err := os.MkdirTemp("", "gemato-openpgp-")
	if err != nil {
		return nil, fmt.Errorf("openpgp: creating isolated home directory: %w", err)
	}
	e := &Envelope{toolPath: path, homeDir: home, isolated: true, available: true, httpClient: http.DefaultClient}
	for _, key := range keys {
		if err := e.ImportKey(key); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Close releases the envelope's scoped resources. For a system envelope
// this is a no-op; for an isolated envelope it removes the temporary home
// directory on every call, guaranteeing release on all exit paths.
func (e *Envelope) Close() error {
	if e == nil {
		return nil
	}
	if e.isolated && e.homeDir != "" {
		return os.RemoveAll(e.homeDir)
	}
	return nil
}

// Available reports whether the configured tool was found at
// construction time.
func (e *Envelope) Available() bool { return e.available }

func resolveToolPath() string {
	if p := os.Getenv(toolPathEnv); p != "" {
		return p
	}
	return defaultTool
}

func probeTool(path string) bool {
	if filepath.IsAbs(path) {
		info, err := os.Stat(path)
		return err == nil && !info.IsDir()
	}
	_, err := exec.LookPath(path)
	return err == nil
}

func (e *Envelope) requireAvailable() error {
	if !e.available {
		return Error{Kind: KindUnavailable, Detail: "openpgp tool not found"}
	}
	return nil
}

// command builds an *exec.Cmd for the tool, scoped to this envelope's
// home directory (if isolated) and always running in batch, non-TTY
// mode.
func (e *Envelope) command(ctx context.Context, args ...string) *exec.Cmd {
	batchArgs := append([]string{"--batch", "--no-tty", "--yes"}, args...)
	if e.homeDir != "" {
		batchArgs = append([]string{"--homedir", e.homeDir}, batchArgs...)
	}
	cmd := exec.CommandContext(ctx, e.toolPath, batchArgs...)
	return cmd
}

// runWithStatus runs cmd with stdin wired to input, stdout captured as
// the plaintext/output result, and an extra pipe wired to the tool's
// --status-fd for machine-readable status lines. args must already
// reference the status fd as "3" (the first entry in cmd.ExtraFiles).
func runWithStatus(ctx context.Context, cmd *exec.Cmd, input io.Reader) (output []byte, status *bytes.Buffer, err error) {
	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("openpgp: creating status pipe: %w", err)
	}
	defer statusR.Close()

	var outBuf bytes.Buffer
	var errBuf bytes.Buffer
	cmd.Stdin = input
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.ExtraFiles = []*os.File{statusW}

	statusBuf := &bytes.Buffer{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(statusBuf, statusR)
	}()

	runErr := cmd.Run()
	statusW.Close()
	<-done

	if runErr != nil {
		logging.Debugf("openpgp: tool stderr: %s", errBuf.String())
		// the tool itself reports signature failures via its status
		// stream, not necessarily a nonzero exit in a way we can
		// distinguish from generic failure; fall through and let the
		// caller inspect statusBuf first.
	}
	return outBuf.Bytes(), statusBuf, nil
}

// Verify checks a clearsigned message and reports the signer. It does
// not re-derive the plaintext payload; the manifest codec strips the
// clearsign envelope structurally, and Verify confirms the signature over
// the same raw bytes the envelope was extracted from.
func (e *Envelope) Verify(ctx context.Context, clearsigned io.Reader) (Result, error) {
	if err := e.requireAvailable(); err != nil {
		return Result{}, err
	}
	cmd := e.command(ctx, "--status-fd", "3", "--verify")
	_, status, err := runWithStatus(ctx, cmd, clearsigned)
	if err != nil {
		return Result{}, fmt.Errorf("openpgp: running verify: %w", err)
	}
	return parseStatus(status)
}

// VerifyDetached checks a detached signature against data.
func (e *Envelope) VerifyDetached(ctx context.Context, data io.Reader, signature []byte) (Result, error) {
	if err := e.requireAvailable(); err != nil {
		return Result{}, err
	}
	sigFile, err := os.CreateTemp("", "gemato-sig-*")
	if err != nil {
		return Result{}, fmt.Errorf("openpgp: staging detached signature: %w", err)
	}
	defer os.Remove(sigFile.Name())
	if _, err := sigFile.Write(signature); err != nil {
		sigFile.Close()
		return Result{}, fmt.Errorf("openpgp: staging detached signature: %w", err)
	}
	sigFile.Close()

	cmd := e.command(ctx, "--status-fd", "3", "--verify", sigFile.Name(), "-")
	_, status, err := runWithStatus(ctx, cmd, data)
	if err != nil {
		return Result{}, fmt.Errorf("openpgp: running verify-detached: %w", err)
	}
	return parseStatus(status)
}

// Sign produces a clearsigned copy of plaintext. keyID selects the
// signing key; if empty, the tool's configured default key is used.
func (e *Envelope) Sign(ctx context.Context, plaintext io.Reader, keyID string) ([]byte, error) {
	if err := e.requireAvailable(); err != nil {
		return nil, err
	}
	args := []string{"--status-fd", "3", "--clearsign"}
	if keyID != "" {
		args = append(args, "--local-user", keyID)
	}
	cmd := e.command(ctx, args...)
	out, status, err := runWithStatus(ctx, cmd, plaintext)
	if err != nil {
		return nil, fmt.Errorf("openpgp: running sign: %w", err)
	}
	if len(out) == 0 {
		return nil, signFailure(status)
	}
	return out, nil
}

func signFailure(status *bytes.Buffer) error {
	logging.Debugf("openpgp: sign status stream: %s", status.String())
	return Error{Kind: KindToolFailed, Detail: "signing produced no output"}
}

// ImportKey imports key material into the envelope's keyring.
func (e *Envelope) ImportKey(keyMaterial []byte) error {
	if err := e.requireAvailable(); err != nil {
		return err
	}
	ctx := context.Background()
	cmd := e.command(ctx, "--import")
	_, _, err := runWithStatus(ctx, cmd, bytes.NewReader(keyMaterial))
	if err != nil {
		return fmt.Errorf("openpgp: importing key: %w", err)
	}
	return nil
}

// RefreshKeys fetches updated key material from a Web Key Directory
// server. If the envelope has no HTTP client configured, it fails with
// KindUnavailable rather than silently succeeding.
func (e *Envelope) RefreshKeys(ctx context.Context, keyserverURL string) error {
	if err := e.requireAvailable(); err != nil {
		return err
	}
	if e.httpClient == nil {
		return Error{Kind: KindUnavailable, Detail: "no HTTP client configured for key refresh"}
	}
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keyserverURL, nil)
	if err != nil {
		return fmt.Errorf("openpgp: building refresh request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openpgp: fetching key material: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openpgp: key server returned %s", resp.Status)
	}
	keyMaterial, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("openpgp: reading key material: %w", err)
	}
	return e.ImportKey(keyMaterial)
}

// refreshTimeout bounds how long a key refresh may block on the network.
const refreshTimeout = 30 * time.Second
