package canonical

import (
	"fmt"

	"github.com/tessera-health/ledgerseal/internal/apperr"
	"github.com/tessera-health/ledgerseal/internal/checksum"
	"github.com/tessera-health/ledgerseal/internal/records"
)

// Digest payload keys as stored in ledger entries.
const (
	KeyHash     = "hash"
	KeyFormHash = "formHash"
	KeyFileHash = "fileHash"
	KeyIPFSHash = "ipfsHash"
)

// Per-type field orders. These are contracts: committed digests depend
// on them, so entries are append-only.
var (
	patientOrder = []string{
		"mrn", "first_name", "last_name", "date_of_birth", "gender",
		"phone", "email", "national_id", "blood_group", "address_line1",
		"city", "state", "postal_code", "country",
	}
	visitOrder = []string{
		"patient_id", "doctor_id", "department_id", "visit_type",
		"admission_date", "chief_complaint", "room_number", "bed_number",
		"ward", "status",
	}
	prescriptionOrder = []string{
		"patient_id", "doctor_id", "visit_id", "notes", "prescription_date",
	}
	medicationOrder = []string{
		"medicine_name", "dosage", "frequency", "duration", "instructions", "quantity",
	}
	invoiceOrder = []string{
		"patient_id", "visit_id", "invoice_number", "due_date", "notes", "invoice_date",
	}
	invoiceItemOrder = []string{
		"category", "description", "quantity", "unit_price",
	}
	appointmentOrder = []string{
		"patient_id", "doctor_id", "department_id", "appointment_date",
		"appointment_time", "visit_type", "reason", "status",
	}
	reportFormOrder = []string{
		"patient_id", "visit_id", "report_type", "title", "description",
		"ordering_doctor_id", "department_id", "report_date", "result_summary",
	}
)

// PatientDigest hashes a patient record's identifying and demographic
// fields.
func PatientDigest(f Fields) string {
	return checksum.SumString(Canonicalize(f, patientOrder))
}

// VisitDigest hashes an admission/visit record.
func VisitDigest(f Fields) string {
	return checksum.SumString(Canonicalize(f, visitOrder))
}

// PrescriptionDigest hashes a prescription with its medication list.
// Medications are sorted by medicine_name before joining, so supplier
// ordering cannot change the digest.
func PrescriptionDigest(f Fields, medications []Fields) string {
	canonical := Canonicalize(f, prescriptionOrder) +
		"|medications=[" + listSegment(medications, medicationOrder, []string{"medicine_name"}) + "]"
	return checksum.SumString(canonical)
}

// InvoiceDigest hashes an invoice with its line items, sorted by
// category then description.
func InvoiceDigest(f Fields, items []Fields) string {
	canonical := Canonicalize(f, invoiceOrder) +
		"|items=[" + listSegment(items, invoiceItemOrder, []string{"category", "description"}) + "]"
	return checksum.SumString(canonical)
}

// AppointmentDigest hashes an appointment record.
func AppointmentDigest(f Fields) string {
	return checksum.SumString(Canonicalize(f, appointmentOrder))
}

// ReportFormDigest hashes a report's form fields only; the attached
// file is digested separately with FileDigest.
func ReportFormDigest(f Fields) string {
	return checksum.SumString(Canonicalize(f, reportFormOrder))
}

// FileDigest hashes raw file bytes with no canonicalization.
func FileDigest(data []byte) string {
	return checksum.Sum(data)
}

// DigestFor dispatches to the digest builder for t. list carries the
// nested elements for list-bearing types (prescription medications,
// invoice items) and is ignored otherwise.
func DigestFor(t records.Type, fields Fields, list []Fields) (string, error) {
	switch t {
	case records.Patient:
		return PatientDigest(fields), nil
	case records.Visit:
		return VisitDigest(fields), nil
	case records.Prescription:
		return PrescriptionDigest(fields, list), nil
	case records.Invoice:
		return InvoiceDigest(fields, list), nil
	case records.Appointment:
		return AppointmentDigest(fields), nil
	case records.Report:
		return ReportFormDigest(fields), nil
	}
	return "", fmt.Errorf("digest for type %q: %w", t, apperr.ErrInvalid)
}

// SimplePayload is the ledger payload for form-only records.
func SimplePayload(digest string) map[string]string {
	return map[string]string{KeyHash: digest}
}

// ReportPayload assembles the composite report payload. fileHash and
// ipfsHash are included only when non-empty.
func ReportPayload(formHash, fileHash, ipfsHash string) map[string]string {
	p := map[string]string{KeyFormHash: formHash}
	if fileHash != "" {
		p[KeyFileHash] = fileHash
	}
	if ipfsHash != "" {
		p[KeyIPFSHash] = ipfsHash
	}
	return p
}
