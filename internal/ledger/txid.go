package ledger

import "strings"

// TxIDParser extracts a transaction id from the external process's
// invoke output. Output formats vary across backend versions, so the
// parser is a strategy: when Parse reports no match, callers fall back
// to a synthesized id and log that they did.
type TxIDParser interface {
	Parse(output string) (txid string, ok bool)
}

// PeerCLIParser handles the peer CLI's log format: it scans whitespace
// tokens for one containing "txid" and takes the following token,
// stripped of brackets and quotes.
type PeerCLIParser struct{}

func (PeerCLIParser) Parse(output string) (string, bool) {
	if !strings.Contains(strings.ToLower(output), "txid") {
		return "", false
	}
	fields := strings.Fields(output)
	for i, f := range fields {
		if strings.Contains(strings.ToLower(f), "txid") && i+1 < len(fields) {
			id := strings.Trim(fields[i+1], `[]"'`)
			if id != "" {
				return id, true
			}
		}
	}
	return "", false
}
