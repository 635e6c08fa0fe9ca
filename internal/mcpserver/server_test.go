package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/records"
	"github.com/tessera-health/ledgerseal/internal/testutil"
)

func testServer(t *testing.T) (*Server, *integrity.Service) {
	t.Helper()
	svc := testutil.Service(t)
	return New(svc), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so we invoke the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "ledger_status":
		result, err = srv.ledgerStatus(ctx, req)
	case "verify_record":
		result, err = srv.verifyRecord(ctx, req)
	case "record_history":
		result, err = srv.recordHistory(ctx, req)
	case "subject_audit":
		result, err = srv.subjectAudit(ctx, req)
	case "store_report":
		result, err = srv.storeReport(ctx, req)
	case "get_record_contract":
		result, err = srv.getRecordContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func sealPatient(t *testing.T, svc *integrity.Service, id string, fields canonical.Fields) {
	t.Helper()
	_, err := svc.StoreRecord(context.Background(), integrity.StoreInput{
		RecordType: records.Patient,
		RecordID:   id,
		SubjectID:  id,
		Fields:     fields,
	})
	if err != nil {
		t.Fatalf("StoreRecord: %v", err)
	}
}

func TestVerifyRecordTool(t *testing.T) {
	srv, svc := testServer(t)
	sealPatient(t, svc, "42", canonical.Fields{"mrn": "A-100", "first_name": "John"})

	r := callTool(t, srv, "verify_record", map[string]interface{}{
		"type":   "patient",
		"id":     "42",
		"fields": `{"mrn": "A-100", "first_name": "John"}`,
	})
	if r.IsError {
		t.Fatalf("verify errored: %s", resultText(r))
	}
	var res integrity.VerificationResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Status != integrity.StatusValid || !res.Verified {
		t.Errorf("status = %s/%v, want VALID/true", res.Status, res.Verified)
	}

	// Altered fields flip the outcome.
	r = callTool(t, srv, "verify_record", map[string]interface{}{
		"type":   "patient",
		"id":     "42",
		"fields": `{"mrn": "A-100", "first_name": "Jane"}`,
	})
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if res.Status != integrity.StatusTampered {
		t.Errorf("status = %s, want TAMPERED", res.Status)
	}

	// Never-sealed record.
	r = callTool(t, srv, "verify_record", map[string]interface{}{
		"type":   "patient",
		"id":     "404",
		"fields": `{"mrn": "X"}`,
	})
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if res.Status != integrity.StatusNotFound {
		t.Errorf("status = %s, want NOT_FOUND", res.Status)
	}
}

func TestVerifyRecordTool_NumberFields(t *testing.T) {
	srv, svc := testServer(t)

	// Sealed with json.Number-style values; verified with native JSON
	// numbers. Both normalize to the same canonical text.
	sealPatient(t, svc, "7", canonical.Fields{"mrn": "B-2", "national_id": json.Number("900123")})

	r := callTool(t, srv, "verify_record", map[string]interface{}{
		"type":   "patient",
		"id":     "7",
		"fields": `{"mrn": "B-2", "national_id": 900123}`,
	})
	var res integrity.VerificationResult
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if res.Status != integrity.StatusValid {
		t.Errorf("status = %s, want VALID", res.Status)
	}
}

func TestVerifyRecordTool_WithList(t *testing.T) {
	srv, svc := testServer(t)

	meds := []canonical.Fields{
		{"medicine_name": "Ibuprofen", "dosage": "200mg"},
		{"medicine_name": "Amoxicillin", "dosage": "500mg"},
	}
	_, err := svc.StoreRecord(context.Background(), integrity.StoreInput{
		RecordType: records.Prescription,
		RecordID:   "9",
		Fields:     canonical.Fields{"patient_id": "42", "doctor_id": "3"},
		List:       meds,
	})
	if err != nil {
		t.Fatalf("StoreRecord: %v", err)
	}

	// Supply the medications in the opposite order; sorting makes the
	// digest match anyway.
	r := callTool(t, srv, "verify_record", map[string]interface{}{
		"type":   "prescription",
		"id":     "9",
		"fields": `{"patient_id": "42", "doctor_id": "3"}`,
		"list":   `[{"medicine_name": "Amoxicillin", "dosage": "500mg"}, {"medicine_name": "Ibuprofen", "dosage": "200mg"}]`,
	})
	var res integrity.VerificationResult
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if res.Status != integrity.StatusValid {
		t.Errorf("status = %s, want VALID", res.Status)
	}
}

func TestVerifyRecordTool_BadArgs(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "verify_record", map[string]interface{}{
		"id": "1", "fields": `{}`,
	})
	if !r.IsError {
		t.Error("missing type should error")
	}

	r = callTool(t, srv, "verify_record", map[string]interface{}{
		"type": "patient", "id": "1", "fields": `not json`,
	})
	if !r.IsError {
		t.Error("malformed fields should error")
	}

	r = callTool(t, srv, "verify_record", map[string]interface{}{
		"type": "ghost", "id": "1", "fields": `{}`,
	})
	if !r.IsError {
		t.Error("unknown type should error")
	}
}

func TestRecordHistoryTool(t *testing.T) {
	srv, svc := testServer(t)
	sealPatient(t, svc, "1", canonical.Fields{"mrn": "v1"})
	sealPatient(t, svc, "1", canonical.Fields{"mrn": "v2"})

	r := callTool(t, srv, "record_history", map[string]interface{}{"key": "patient_1"})
	if r.IsError {
		t.Fatalf("history errored: %s", resultText(r))
	}
	var trail integrity.AuditTrail
	if err := json.Unmarshal([]byte(resultText(r)), &trail); err != nil {
		t.Fatalf("decode trail: %v", err)
	}
	if len(trail.Entries) != 2 || trail.ChangesCount != 1 {
		t.Errorf("entries = %d changes = %d, want 2/1", len(trail.Entries), trail.ChangesCount)
	}
}

func TestRecordHistoryTool_Missing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "record_history", map[string]interface{}{"key": "patient_404"})
	if !r.IsError {
		t.Error("expected error for missing key")
	}
}

func TestSubjectAuditTool(t *testing.T) {
	srv, svc := testServer(t)

	r := callTool(t, srv, "subject_audit", map[string]interface{}{"subject_id": "5"})
	if !strings.Contains(resultText(r), "no sealed records") {
		t.Errorf("empty audit = %q", resultText(r))
	}

	sealPatient(t, svc, "5", canonical.Fields{"mrn": "C-5"})
	r = callTool(t, srv, "subject_audit", map[string]interface{}{"subject_id": "5"})
	var audit integrity.SubjectAudit
	if err := json.Unmarshal([]byte(resultText(r)), &audit); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if audit.Total != 1 {
		t.Errorf("total = %d, want 1", audit.Total)
	}
}

func TestLedgerStatusTool(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "ledger_status", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, `"simulation": true`) {
		t.Errorf("status = %s", text)
	}
}

func TestGetRecordContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_record_contract", map[string]interface{}{})
	if !strings.Contains(resultText(r), "Field orders") {
		t.Error("contract text missing field orders section")
	}
}

func TestStoreReportTool_DataURI(t *testing.T) {
	srv, svc := testServer(t)

	plain := []byte("lab results: all markers nominal")
	uri := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(plain)

	r := callTool(t, srv, "store_report", map[string]interface{}{
		"id":         "12",
		"fields":     `{"patient_id": "5", "report_type": "LAB"}`,
		"subject_id": "5",
		"file_url":   uri,
		"filename":   "lab.pdf",
	})
	if r.IsError {
		t.Fatalf("store_report errored: %s", resultText(r))
	}
	var res integrity.ReportResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.RecordKey != "report_12" {
		t.Errorf("record_key = %q, want report_12", res.RecordKey)
	}
	if len(res.FileDigest) != 64 || res.Locator == "" {
		t.Errorf("file_digest = %q locator = %q", res.FileDigest, res.Locator)
	}

	// The sealed entry verifies against the same bytes.
	vr, err := svc.VerifyReport(context.Background(), integrity.ReportVerifyInput{
		RecordID: "12",
		Fields:   canonical.Fields{"patient_id": "5", "report_type": "LAB"},
		FileData: plain,
	})
	if err != nil {
		t.Fatalf("VerifyReport: %v", err)
	}
	if vr.Status != integrity.StatusValid {
		t.Errorf("status = %s, want VALID", vr.Status)
	}
}

func TestStoreReportTool_BadURI(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "store_report", map[string]interface{}{
		"id":       "1",
		"fields":   `{"patient_id": "5"}`,
		"file_url": "data:application/pdf,plain-not-base64",
	})
	if !r.IsError {
		t.Error("non-base64 data URI should error")
	}
}
