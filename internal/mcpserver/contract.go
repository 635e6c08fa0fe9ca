package mcpserver

// RecordFormatContract describes the canonical field contract that LLM
// consumers must follow when supplying record fields for sealing or
// verification. Field orders never change once digests have been
// committed.
const RecordFormatContract = `# Ledgerseal Record Format Contract

Every digest is computed over a canonical string, never over raw JSON.
Callers supply a flat field map; the subsystem renders it as
` + "`name=value`" + ` segments joined by ` + "`|`" + ` in a fixed per-type order and
hashes the result with SHA-256 (64 lowercase hex characters).

## Rules

1. **Field order is fixed per record type** (listed below) and is part
   of the contract. Fields you do not supply are rendered as empty
   (` + "`name=`" + `), so a record sealed with a field present only verifies
   if that field is supplied again with the same value.
2. **Values normalize deterministically:** strings are trimmed, booleans
   render as ` + "`true`" + `/` + "`false`" + `, numbers render in plain decimal form,
   null renders empty, and nested lists/maps render as compact JSON with
   sorted keys.
3. **List-bearing types** carry their elements in a dedicated segment:
   prescriptions embed ` + "`medications=[...]`" + ` sorted by medicine_name;
   invoices embed ` + "`items=[...]`" + ` sorted by category then description.
   Element order as supplied never changes the digest.
4. **Record keys** are ` + "`<type>_<id>`" + ` in lowercase, e.g. ` + "`patient_42`" + `.
5. **Reports** hash their form fields and their file bytes separately;
   the file digest is over the raw bytes with no canonicalization.

## Field orders

- PATIENT: mrn, first_name, last_name, date_of_birth, gender, phone,
  email, national_id, blood_group, address_line1, city, state,
  postal_code, country
- VISIT: patient_id, doctor_id, department_id, visit_type,
  admission_date, chief_complaint, room_number, bed_number, ward, status
- PRESCRIPTION: patient_id, doctor_id, visit_id, notes,
  prescription_date + medications list (medicine_name, dosage,
  frequency, duration, instructions, quantity)
- INVOICE: patient_id, visit_id, invoice_number, due_date, notes,
  invoice_date + items list (category, description, quantity,
  unit_price)
- APPOINTMENT: patient_id, doctor_id, department_id, appointment_date,
  appointment_time, visit_type, reason, status
- REPORT (form): patient_id, visit_id, report_type, title, description,
  ordering_doctor_id, department_id, report_date, result_summary

## Tool usage

- Pass ` + "`fields`" + ` as a JSON object string, e.g.
  ` + "`{\"mrn\": \"A-100\", \"first_name\": \"John\"}`" + `.
- Pass ` + "`list`" + ` (when the type has one) as a JSON array of objects.
- Verification returns a status of VALID, TAMPERED, NOT_FOUND, or
  ERROR; TAMPERED means the recomputed digest differs from the ledger's
  current digest.

## Example

` + "```" + `json
{
  "type": "prescription",
  "id": "77",
  "fields": {"patient_id": 42, "doctor_id": 3, "prescription_date": "2025-02-01"},
  "list": [
    {"medicine_name": "Amoxicillin", "dosage": "500mg", "frequency": "3/day"},
    {"medicine_name": "Ibuprofen", "dosage": "200mg", "frequency": "as needed"}
  ]
}
` + "```" + `
`
