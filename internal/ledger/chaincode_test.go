package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/records"
)

type runnerFunc func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func (f runnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return f(ctx, name, args...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testChaincode(t *testing.T, runner Runner) *Chaincode {
	t.Helper()
	return NewChaincode(ChaincodeOptions{
		Channel:         "recordsch",
		Chaincode:       "recordscc",
		OrdererEndpoint: "orderer.example.com:7050",
		TLSEnabled:      true,
		TLSCertFile:     "/etc/tls/ca.crt",
		Runner:          runner,
	}, testLogger())
}

func TestChaincode_InvokeArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	runner := runnerFunc(func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName = name
		gotArgs = args
		return []byte("txid [abc] committed"), nil, nil
	})
	cc := testChaincode(t, runner)

	payload := map[string]string{canonical.KeyHash: "deadbeef"}
	if _, err := cc.Append(context.Background(), "patient_1", records.Patient, "1", payload, nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if gotName != "peer" {
		t.Errorf("binary = %q, want %q", gotName, "peer")
	}
	want := []string{"chaincode", "invoke", "-C", "recordsch", "-n", "recordscc"}
	if len(gotArgs) < len(want) {
		t.Fatalf("args = %v, want at least prefix %v", gotArgs, want)
	}
	for i, w := range want {
		if gotArgs[i] != w {
			t.Fatalf("args[%d] = %q, want %q", i, gotArgs[i], w)
		}
	}

	// The -c value carries the constructor JSON.
	ctor := argValue(t, gotArgs, "-c")
	var decoded struct {
		Function string   `json:"function"`
		Args     []string `json:"Args"`
	}
	if err := json.Unmarshal([]byte(ctor), &decoded); err != nil {
		t.Fatalf("decode ctor %q: %v", ctor, err)
	}
	if decoded.Function != fnAddRecordHash {
		t.Errorf("function = %q, want %q", decoded.Function, fnAddRecordHash)
	}
	if len(decoded.Args) != 5 || decoded.Args[0] != "patient_1" || decoded.Args[1] != "PATIENT" || decoded.Args[2] != "1" {
		t.Errorf("ctor args = %v", decoded.Args)
	}

	if argValue(t, gotArgs, "-o") != "orderer.example.com:7050" {
		t.Errorf("orderer = %q", argValue(t, gotArgs, "-o"))
	}
	if !hasArg(gotArgs, "--tls") {
		t.Error("missing --tls for a TLS-enabled invoke")
	}
	if argValue(t, gotArgs, "--cafile") != "/etc/tls/ca.crt" {
		t.Errorf("cafile = %q", argValue(t, gotArgs, "--cafile"))
	}
}

func TestChaincode_QueryOmitsOrderer(t *testing.T) {
	var gotArgs []string
	runner := runnerFunc(func(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
		gotArgs = args
		return []byte("null"), nil, nil
	})
	cc := testChaincode(t, runner)

	if _, err := cc.Get(context.Background(), "patient_1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get: err = %v, want ErrNotFound", err)
	}
	if len(gotArgs) < 2 || gotArgs[1] != "query" {
		t.Fatalf("args = %v, want a query command", gotArgs)
	}
	if hasArg(gotArgs, "-o") || hasArg(gotArgs, "--tls") {
		t.Errorf("query carries orderer or TLS flags: %v", gotArgs)
	}
}

func TestChaincode_AppendParsesTxID(t *testing.T) {
	out := `2024-01-05 10:00:01.123 UTC [chaincodeCmd] chaincodeInvokeOrQuery -> INFO 001 Chaincode invoke successful. result: status:200 txid: ["f3a9c1"] committed`
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte(out), nil, nil
	})
	cc := testChaincode(t, runner)

	entry, err := cc.Append(context.Background(), "patient_1", records.Patient, "1", map[string]string{canonical.KeyHash: "x"}, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.TxID != "f3a9c1" {
		t.Errorf("txid = %q, want %q", entry.TxID, "f3a9c1")
	}
}

func TestChaincode_AppendSynthesizesTxIDWhenUnparseable(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte("invoke successful, no transaction details"), nil, nil
	})
	cc := testChaincode(t, runner)

	entry, err := cc.Append(context.Background(), "patient_1", records.Patient, "1", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	fallbackRe := regexp.MustCompile(`^\d{14}-[0-9a-f]{8}$`)
	if !fallbackRe.MatchString(entry.TxID) {
		t.Errorf("synthesized txid %q does not match fallback format", entry.TxID)
	}
}

func TestChaincode_GetDecodesRecord(t *testing.T) {
	wire := `{
		"recordId": "visit_12",
		"patientId": 7,
		"hashPayload": {"hash": "cafe01"},
		"recordType": "VISIT",
		"timestamp": "2024-03-01T09:30:00Z",
		"txId": "tx-777"
	}`
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte(wire + "\n"), nil, nil
	})
	cc := testChaincode(t, runner)

	entry, err := cc.Get(context.Background(), "visit_12")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.RecordKey != "visit_12" {
		t.Errorf("RecordKey = %q", entry.RecordKey)
	}
	if entry.SubjectID != "7" {
		t.Errorf("SubjectID = %q, want %q (numeric id coerced)", entry.SubjectID, "7")
	}
	if entry.RecordType != records.Visit {
		t.Errorf("RecordType = %q", entry.RecordType)
	}
	if entry.Payload[canonical.KeyHash] != "cafe01" {
		t.Errorf("payload = %v", entry.Payload)
	}
	if entry.TxID != "tx-777" {
		t.Errorf("TxID = %q", entry.TxID)
	}
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", entry.Timestamp, want)
	}
}

func TestChaincode_GetLegacyStringPayload(t *testing.T) {
	wire := `{"recordId": "patient_3", "patientId": "3", "hashPayload": "bare-digest", "recordType": "PATIENT", "timestamp": "2023-11-11T11:11:11Z", "txId": "t1"}`
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte(wire), nil, nil
	})
	cc := testChaincode(t, runner)

	entry, err := cc.Get(context.Background(), "patient_3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Payload[canonical.KeyHash] != "bare-digest" {
		t.Errorf("legacy payload = %v, want hash key carrying the bare digest", entry.Payload)
	}
}

func TestChaincode_GetMalformedOutput(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte("{not json"), nil, nil
	})
	cc := testChaincode(t, runner)

	if _, err := cc.Get(context.Background(), "patient_1"); !errors.Is(err, apperr.ErrEncoding) {
		t.Errorf("malformed output: err = %v, want ErrEncoding", err)
	}
}

func TestChaincode_HistorySortedOldestFirst(t *testing.T) {
	wire := `[
		{"txId": "t2", "timestamp": "2024-02-01T00:00:00Z", "record": {"recordId": "patient_1", "patientId": 1, "hashPayload": {"hash": "v2"}, "recordType": "PATIENT", "timestamp": "2024-02-01T00:00:00Z", "txId": "t2"}},
		{"txId": "t1", "timestamp": "2024-01-01T00:00:00Z", "record": {"recordId": "patient_1", "patientId": 1, "hashPayload": {"hash": "v1"}, "recordType": "PATIENT", "timestamp": "2024-01-01T00:00:00Z", "txId": "t1"}},
		{"txId": "t3", "timestamp": "2024-03-01T00:00:00Z", "record": null}
	]`
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte(wire), nil, nil
	})
	cc := testChaincode(t, runner)

	hist, err := cc.History(context.Background(), "patient_1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2 (null record skipped)", len(hist))
	}
	if hist[0].TxID != "t1" || hist[1].TxID != "t2" {
		t.Errorf("history order = [%s %s], want oldest first", hist[0].TxID, hist[1].TxID)
	}
	if hist[0].Payload[canonical.KeyHash] != "v1" {
		t.Errorf("history[0] payload = %v", hist[0].Payload)
	}
}

func TestChaincode_VerifyDigest(t *testing.T) {
	cases := []struct {
		name string
		out  string
		want bool
	}{
		{"valid", `{"isValid": true}`, true},
		{"tampered", `{"isValid": false}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
				return []byte(tc.out), nil, nil
			})
			cc := testChaincode(t, runner)
			got, err := cc.VerifyDigest(context.Background(), "patient_1", "digest")
			if err != nil {
				t.Fatalf("VerifyDigest: %v", err)
			}
			if got != tc.want {
				t.Errorf("VerifyDigest = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestChaincode_QueryListEmpty(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return []byte("null"), nil, nil
	})
	cc := testChaincode(t, runner)

	entries, err := cc.BySubject(context.Background(), "42")
	if err != nil {
		t.Fatalf("BySubject: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("BySubject = %v, want empty", entries)
	}
}

func TestChaincode_NotFoundFromStderr(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return nil, []byte("Error: endorsement failure ... record not found: patient_404"), errors.New("exit status 1")
	})
	cc := testChaincode(t, runner)

	if _, err := cc.Get(context.Background(), "patient_404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stderr not-found: err = %v, want ErrNotFound", err)
	}
}

func TestChaincode_TransportFailure(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		return nil, []byte("Error: error getting endorser client: connection refused"), errors.New("exit status 1")
	})
	cc := testChaincode(t, runner)

	_, err := cc.Get(context.Background(), "patient_1")
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("transport failure: err = %v, want ErrNetwork", err)
	}
	if !apperr.Retryable(err) {
		t.Error("transport failure should be retryable")
	}
}

func TestChaincode_Timeout(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	})
	cc := NewChaincode(ChaincodeOptions{
		Channel:   "ch",
		Chaincode: "cc",
		Timeout:   20 * time.Millisecond,
		Runner:    runner,
	}, testLogger())

	_, err := cc.Get(context.Background(), "patient_1")
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Errorf("hung subprocess: err = %v, want ErrTimeout", err)
	}
}

func TestChaincode_MissingBinary(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, name string, _ ...string) ([]byte, []byte, error) {
		return nil, nil, &exec.Error{Name: name, Err: exec.ErrNotFound}
	})
	cc := testChaincode(t, runner)

	if _, err := cc.Get(context.Background(), "patient_1"); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("missing binary: err = %v, want ErrConfiguration", err)
	}
}

func TestChaincode_IsConfigured(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	for _, f := range []string{cert, key} {
		if err := os.WriteFile(f, []byte("pem"), 0o600); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}

	cc := NewChaincode(ChaincodeOptions{CertFile: cert, KeyFile: key}, testLogger())
	if !cc.IsConfigured() {
		t.Error("both credential files present, want configured")
	}
	if cc.Simulation() {
		t.Error("chaincode backend must not report simulation mode")
	}

	cc = NewChaincode(ChaincodeOptions{CertFile: cert, KeyFile: filepath.Join(dir, "missing.pem")}, testLogger())
	if cc.IsConfigured() {
		t.Error("missing key file, want not configured")
	}

	cc = NewChaincode(ChaincodeOptions{}, testLogger())
	if cc.IsConfigured() {
		t.Error("empty credential paths, want not configured")
	}
}

func TestPeerCLIParser_Parse(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{"bracketed", `result: status:200 txid: [9a1b2c] committed`, "9a1b2c", true},
		{"quoted", `TxID: "fff000" payload ok`, "fff000", true},
		{"plain", `committed txid a1b2c3d4`, "a1b2c3d4", true},
		{"absent", `Chaincode invoke successful. result: status:200`, "", false},
		{"txid last token", `something ends with txid`, "", false},
		{"empty", ``, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PeerCLIParser{}.Parse(tc.output)
			if ok != tc.ok || got != tc.want {
				t.Errorf("Parse(%q) = %q,%v want %q,%v", tc.output, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not present in %v", flag, args)
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
