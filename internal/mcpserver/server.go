// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ledgerseal tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tessera-health/ledgerseal/internal/canonical"
	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/records"
)

// Server wraps the MCP server with Ledgerseal tools.
type Server struct {
	mcp *server.MCPServer
	svc *integrity.Service
}

// New creates a new MCP server with all Ledgerseal tools registered.
func New(svc *integrity.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ledgerseal",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ledger_status",
		mcp.WithDescription("Report whether the ledger and file store backends are configured, and whether the ledger is the in-process simulation."),
	), s.ledgerStatus)

	s.mcp.AddTool(mcp.NewTool("verify_record",
		mcp.WithDescription("Recompute a record's canonical digest from the supplied fields and compare it with the ledger's current digest. "+
			"Fields MUST follow the canonical field contract; read it first via the get_record_contract tool or the ledgerseal://record-format resource."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Record type (patient, visit, prescription, report, invoice, appointment)")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id, e.g. 42")),
		mcp.WithString("fields", mcp.Required(), mcp.Description("Record fields as a JSON object string")),
		mcp.WithString("list", mcp.Description("Nested elements as a JSON array string (prescription medications, invoice items)")),
	), s.verifyRecord)

	s.mcp.AddTool(mcp.NewTool("record_history",
		mcp.WithDescription("Return the full append trail for a ledger key, oldest first."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Ledger key, e.g. patient_42")),
	), s.recordHistory)

	s.mcp.AddTool(mcp.NewTool("subject_audit",
		mcp.WithDescription("Summarize every sealed record for one subject: totals, per-type counts, and current entries."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Subject (patient) id")),
	), s.subjectAudit)

	s.mcp.AddTool(mcp.NewTool("store_report",
		mcp.WithDescription("Seal a report: digest its form fields, and when a file URL is given fetch the file, digest, encrypt, and store it. "+
			"Accepts http(s) URLs or base64 data URIs."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Report id")),
		mcp.WithString("fields", mcp.Required(), mcp.Description("Report form fields as a JSON object string")),
		mcp.WithString("subject_id", mcp.Description("Subject (patient) id")),
		mcp.WithString("file_url", mcp.Description("http(s) URL or data URI of the report document")),
		mcp.WithString("filename", mcp.Description("Stored filename (derived from the URL when omitted)")),
	), s.storeReport)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the canonical record format contract. "+
			"Call this before supplying fields for sealing or verification."),
	), s.getRecordContract)

	// Resource: record format contract.
	s.mcp.AddResource(
		mcp.NewResource("ledgerseal://record-format", "Record Format Contract",
			mcp.WithResourceDescription("Canonical field contract that digests are computed over."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// decodeFields parses a JSON object string into a field map, keeping
// numbers as json.Number so digests match the canonical contract.
func decodeFields(raw string) (canonical.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var f canonical.Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("fields must be a JSON object: %w", err)
	}
	return f, nil
}

func decodeFieldList(raw string) ([]canonical.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var l []canonical.Fields
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("list must be a JSON array of objects: %w", err)
	}
	return l, nil
}

func (s *Server) ledgerStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.svc.Status(ctx), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) verifyRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rtype, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawFields, err := req.RequireString("fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, err := decodeFields(rawFields)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var list []canonical.Fields
	if rawList, lErr := req.RequireString("list"); lErr == nil && rawList != "" {
		list, err = decodeFieldList(rawList)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	res, err := s.svc.VerifyRecord(ctx, integrity.VerifyInput{
		RecordType: records.Type(rtype),
		RecordID:   id,
		Fields:     fields,
		List:       list,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) recordHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trail, err := s.svc.Trail(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no ledger trail for %s: %v", key, err)), nil
	}
	out, _ := json.MarshalIndent(trail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) subjectAudit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subjectID, err := req.RequireString("subject_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	audit, err := s.svc.AuditSubject(ctx, subjectID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if audit.Total == 0 {
		return mcp.NewToolResultText("no sealed records for subject " + strconv.Quote(subjectID)), nil
	}
	out, _ := json.MarshalIndent(audit, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) storeReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawFields, err := req.RequireString("fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields, err := decodeFields(rawFields)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	in := integrity.ReportInput{RecordID: id, Fields: fields}
	if v, sErr := req.RequireString("subject_id"); sErr == nil {
		in.SubjectID = v
	}
	filename := ""
	if v, fErr := req.RequireString("filename"); fErr == nil {
		filename = v
	}
	if fileURL, uErr := req.RequireString("file_url"); uErr == nil && fileURL != "" {
		data, name, err := fetchReportFile(fileURL, filename)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		in.FileData = data
		in.FileName = name
	}

	res, err := s.svc.StoreReport(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("store report failed: %v", err)), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRecordContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ledgerseal://record-format",
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
