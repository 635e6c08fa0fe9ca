package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/records"
)

// Chaincode function names exposed by the smart contract.
const (
	fnAddRecordHash       = "AddRecordHash"
	fnGetRecordHash       = "GetRecordHash"
	fnGetRecordHistory    = "GetRecordHistory"
	fnVerifyHash          = "VerifyHash"
	fnGetRecordsByPatient = "GetRecordsByPatient"
	fnGetRecordsByType    = "GetRecordsByType"
)

// DefaultInvokeTimeout bounds every subprocess invocation.
const DefaultInvokeTimeout = 30 * time.Second

// Runner executes the external process. Swapped out in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return out.Bytes(), errBuf.Bytes(), err
}

// ChaincodeOptions configures the external backend.
type ChaincodeOptions struct {
	Channel   string
	Chaincode string
	// PeerBinary defaults to "peer".
	PeerBinary      string
	OrdererEndpoint string
	TLSEnabled      bool
	TLSCertFile     string
	// CertFile and KeyFile are the MSP credential files whose presence
	// on disk decides IsConfigured.
	CertFile string
	KeyFile  string
	Timeout  time.Duration
	// Runner and Parser default to the real subprocess runner and the
	// peer CLI parser when nil.
	Runner Runner
	Parser TxIDParser
}

// Chaincode translates ledger operations into invocations of an
// external smart-contract process. Writes go through "invoke", reads
// through "query"; every call is bounded by a timeout.
type Chaincode struct {
	opts   ChaincodeOptions
	runner Runner
	parser TxIDParser
	logger *slog.Logger
}

func NewChaincode(opts ChaincodeOptions, logger *slog.Logger) *Chaincode {
	if opts.PeerBinary == "" {
		opts.PeerBinary = "peer"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultInvokeTimeout
	}
	runner := opts.Runner
	if runner == nil {
		runner = execRunner{}
	}
	parser := opts.Parser
	if parser == nil {
		parser = PeerCLIParser{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chaincode{opts: opts, runner: runner, parser: parser, logger: logger}
}

// IsConfigured is true only when both MSP credential files exist.
func (c *Chaincode) IsConfigured() bool {
	return fileExists(c.opts.CertFile) && fileExists(c.opts.KeyFile)
}

func (c *Chaincode) Simulation() bool { return false }

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// buildArgs assembles the peer CLI argument list for one call.
func (c *Chaincode) buildArgs(command, function string, args []string) []string {
	ctor, _ := json.Marshal(map[string]any{"function": function, "Args": args})
	out := []string{
		"chaincode", command,
		"-C", c.opts.Channel,
		"-n", c.opts.Chaincode,
		"-c", string(ctor),
	}
	if command == "invoke" {
		out = append(out, "-o", c.opts.OrdererEndpoint)
		if c.opts.TLSEnabled {
			out = append(out, "--tls", "--cafile", c.opts.TLSCertFile)
		}
	}
	return out
}

// invoke runs a write operation and returns the transaction id, parsed
// from output or synthesized as a loud fallback.
func (c *Chaincode) invoke(ctx context.Context, function string, args []string) (string, error) {
	stdout, stderr, err := c.run(ctx, "invoke", function, args)
	if err != nil {
		return "", err
	}
	if txid, ok := c.parser.Parse(string(stdout)); ok {
		return txid, nil
	}
	txid := fallbackTxID(time.Now())
	c.logger.Warn("transaction id not found in invoke output, synthesized locally",
		"function", function, "txid", txid, "output_bytes", len(stdout), "stderr_bytes", len(stderr))
	return txid, nil
}

// query runs a read operation and returns trimmed stdout. Empty output
// with a clean exit means "no such record".
func (c *Chaincode) query(ctx context.Context, function string, args []string) ([]byte, error) {
	stdout, _, err := c.run(ctx, "query", function, args)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(stdout), nil
}

func (c *Chaincode) run(ctx context.Context, command, function string, args []string) ([]byte, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	stdout, stderr, err := c.runner.Run(callCtx, c.opts.PeerBinary, c.buildArgs(command, function, args)...)
	if err == nil {
		return stdout, stderr, nil
	}
	if callCtx.Err() != nil {
		return nil, nil, fmt.Errorf("ledger: chaincode %s %s after %s: %w", command, function, c.opts.Timeout, apperr.ErrTimeout)
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return nil, nil, fmt.Errorf("ledger: peer binary %q: %v: %w", c.opts.PeerBinary, err, apperr.ErrConfiguration)
	}
	diag := strings.TrimSpace(string(stderr))
	if strings.Contains(strings.ToLower(diag), "not found") {
		return nil, nil, fmt.Errorf("ledger: chaincode %s %s: %s: %w", command, function, diag, apperr.ErrNotFound)
	}
	return nil, nil, fmt.Errorf("ledger: chaincode %s %s failed: %s: %w", command, function, diag, apperr.ErrNetwork)
}

// Wire shapes produced by the smart contract.
type wireRecord struct {
	RecordID    string          `json:"recordId"`
	PatientID   json.Number     `json:"patientId"`
	HashPayload json.RawMessage `json:"hashPayload"`
	RecordType  string          `json:"recordType"`
	Timestamp   string          `json:"timestamp"`
	TxID        string          `json:"txId"`
}

type wireHistoryEntry struct {
	TxID      string      `json:"txId"`
	Timestamp string      `json:"timestamp"`
	Record    *wireRecord `json:"record"`
}

func (w wireRecord) toEntry() Entry {
	return Entry{
		RecordKey:  w.RecordID,
		RecordType: records.Type(w.RecordType),
		SubjectID:  w.PatientID.String(),
		Payload:    decodePayload(w.HashPayload),
		Timestamp:  parseWireTime(w.Timestamp),
		TxID:       w.TxID,
	}
}

// decodePayload accepts both payload encodings the contract stores: a
// digest map, or a bare digest string for legacy simple records.
func decodePayload(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return map[string]string{canonical.KeyHash: asString}
	}
	return nil
}

func parseWireTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (c *Chaincode) Append(ctx context.Context, key string, rtype records.Type, subjectID string, payload, metadata map[string]string) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode payload: %w", err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode metadata: %w", err)
	}
	txid, err := c.invoke(ctx, fnAddRecordHash, []string{key, string(rtype), subjectID, string(payloadJSON), string(metaJSON)})
	if err != nil {
		return nil, err
	}
	return &Entry{
		RecordKey:  key,
		RecordType: rtype,
		SubjectID:  subjectID,
		Payload:    cloneMap(payload),
		Metadata:   cloneMap(metadata),
		Timestamp:  time.Now().UTC(),
		TxID:       txid,
	}, nil
}

func (c *Chaincode) Get(ctx context.Context, key string) (*Entry, error) {
	out, err := c.query(ctx, fnGetRecordHash, []string{key})
	if err != nil {
		return nil, err
	}
	// A clean exit with no payload is the contract's "no such record".
	if len(out) == 0 || bytes.Equal(out, []byte("null")) {
		return nil, fmt.Errorf("ledger: record %s: %w", key, apperr.ErrNotFound)
	}
	var w wireRecord
	if err := json.Unmarshal(out, &w); err != nil {
		return nil, fmt.Errorf("ledger: decode record %s: %w", key, apperr.ErrEncoding)
	}
	entry := w.toEntry()
	return &entry, nil
}

func (c *Chaincode) History(ctx context.Context, key string) ([]Entry, error) {
	out, err := c.query(ctx, fnGetRecordHistory, []string{key})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || bytes.Equal(out, []byte("null")) {
		return nil, fmt.Errorf("ledger: record %s: %w", key, apperr.ErrNotFound)
	}
	var wire []wireHistoryEntry
	if err := json.Unmarshal(out, &wire); err != nil {
		return nil, fmt.Errorf("ledger: decode history %s: %w", key, apperr.ErrEncoding)
	}
	entries := make([]Entry, 0, len(wire))
	for _, h := range wire {
		if h.Record == nil {
			continue
		}
		e := h.Record.toEntry()
		e.TxID = h.TxID
		e.Timestamp = parseWireTime(h.Timestamp)
		entries = append(entries, e)
	}
	// Iterator order varies across backend versions; the contract here
	// is chronological, oldest first.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}

func (c *Chaincode) VerifyDigest(ctx context.Context, key, digest string) (bool, error) {
	out, err := c.query(ctx, fnVerifyHash, []string{key, digest})
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("ledger: record %s: %w", key, apperr.ErrNotFound)
	}
	var result struct {
		IsValid bool `json:"isValid"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return false, fmt.Errorf("ledger: decode verify result: %w", apperr.ErrEncoding)
	}
	return result.IsValid, nil
}

func (c *Chaincode) BySubject(ctx context.Context, subjectID string) ([]Entry, error) {
	return c.queryList(ctx, fnGetRecordsByPatient, []string{subjectID})
}

func (c *Chaincode) ByType(ctx context.Context, rtype records.Type) ([]Entry, error) {
	return c.queryList(ctx, fnGetRecordsByType, []string{string(rtype)})
}

func (c *Chaincode) queryList(ctx context.Context, function string, args []string) ([]Entry, error) {
	out, err := c.query(ctx, function, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 || bytes.Equal(out, []byte("null")) {
		return []Entry{}, nil
	}
	var wire []wireRecord
	if err := json.Unmarshal(out, &wire); err != nil {
		return nil, fmt.Errorf("ledger: decode %s result: %w", function, apperr.ErrEncoding)
	}
	entries := make([]Entry, 0, len(wire))
	for _, w := range wire {
		entries = append(entries, w.toEntry())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries, nil
}
