package claudecli

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/config"
	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/common/logger"
	relaymodel "github.com/cheaprelay/cheaprelay/relay/model"
)

// messageDigest is one entry of a warm process's context log: what the
// process has already observed, keyed by role and content hash. Content is
// retained so backfill can replay it.
type messageDigest struct {
	Role    string
	Hash    string
	Content string
}

func digestMessage(msg relaymodel.Message) messageDigest {
	content := msg.StringContent()
	sum := sha256.Sum256([]byte(msg.Role + "\x00" + content))
	return messageDigest{
		Role:    msg.Role,
		Hash:    hex.EncodeToString(sum[:8]),
		Content: content,
	}
}

func digestMessages(msgs []relaymodel.Message) []messageDigest {
	out := make([]messageDigest, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, digestMessage(m))
	}
	return out
}

// commonPrefixLen returns how many leading digests both sides share.
func commonPrefixLen(a, b []messageDigest) int {
	n := 0
	for n < len(a) && n < len(b) && a[n].Hash == b[n].Hash {
		n++
	}
	return n
}

// process is one long-running claude subprocess: a single-threaded actor
// owning its stdin/stdout pipes. Acquire serializes dispatch; only one
// in-flight exchange is allowed at a time.
type process struct {
	model string

	mu      sync.Mutex // held between Acquire and Release
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner

	// stateMu guards liveness, which Interrupt flips from another goroutine
	// while mu is held for an in-flight exchange.
	stateMu sync.Mutex
	osProc  *os.Process
	dead    bool

	// contextLog is the ordered digest of messages this process has seen.
	// Owned by the process; cleared on respawn.
	contextLog []messageDigest
}

func newProcess(modelID string) *process {
	return &process{model: modelID}
}

// Acquire locks the process for one exchange and ensures it is running.
// Dead processes self-heal: the next acquire respawns and clears the
// context log.
func (p *process) Acquire() error {
	p.mu.Lock()
	if p.cmd == nil || p.isDead() {
		if err := p.spawn(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

// Release unlocks the process for the next request.
func (p *process) Release() {
	p.mu.Unlock()
}

func (p *process) spawn() error {
	p.teardownLocked()

	cmd := exec.Command(config.ClaudeCLIPath,
		"-p",
		"--verbose",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--model", p.model,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "claude stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "claude stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "spawn %s", config.ClaudeCLIPath)
	}

	scanner := bufio.NewScanner(stdout)
	helper.ConfigureScannerBuffer(scanner)

	p.cmd = cmd
	p.stdin = stdin
	p.scanner = scanner
	p.contextLog = nil
	p.stateMu.Lock()
	p.osProc = cmd.Process
	p.dead = false
	p.stateMu.Unlock()

	logger.Logger.Info("claude subprocess spawned",
		zap.String("model", p.model), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Send writes one user message and reads NDJSON events until the result
// event arrives, invoking onEvent per event. The result event is returned.
// Must be called between Acquire and Release. A read failure marks the
// process dead; the death is the caller's signal to fail the request.
func (p *process) Send(text string, onEvent func(ev *streamEvent)) (*streamEvent, error) {
	raw, err := json.Marshal(newUserMessage(text))
	if err != nil {
		return nil, errors.Wrap(err, "marshal user message")
	}
	raw = append(raw, '\n')
	if _, err := p.stdin.Write(raw); err != nil {
		p.markDead()
		return nil, errors.Wrap(err, "write claude stdin")
	}

	// The local process blocks on stdout if not drained; read eagerly until
	// the terminal result event.
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // tolerate malformed lines
		}
		if onEvent != nil {
			onEvent(&ev)
		}
		if ev.Type == "result" {
			return &ev, nil
		}
	}

	p.markDead()
	if err := p.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read claude stdout")
	}
	return nil, errors.New("claude subprocess closed stdout before result event")
}

func (p *process) markDead() {
	p.stateMu.Lock()
	p.dead = true
	p.stateMu.Unlock()
}

func (p *process) isDead() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.dead
}

// Interrupt kills the underlying OS process without waiting for the exchange
// mutex, so a Send blocked on stdout unblocks with a read error. Safe to call
// while another goroutine holds the process for dispatch.
func (p *process) Interrupt() {
	p.stateMu.Lock()
	p.dead = true
	proc := p.osProc
	p.stateMu.Unlock()
	if proc != nil {
		_ = proc.Kill()
	}
}

// Kill terminates the subprocess immediately.
func (p *process) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

func (p *process) teardownLocked() {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.cmd = nil
	p.stdin = nil
	p.scanner = nil
	p.contextLog = nil
	p.stateMu.Lock()
	p.osProc = nil
	p.dead = true
	p.stateMu.Unlock()
}
