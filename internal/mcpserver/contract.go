package mcpserver

// LedgerFormatContract describes how issued artifacts are recorded in the
// ledger and how a suspect file is attributed.
const LedgerFormatContract = `# Tracemark Ledger Format

Every issued artifact produces exactly one ledger entry.

## Ledger entry

| Field | Meaning |
|---|---|
| ` + "`id`" + ` | Ledger row id, assigned in issue order |
| ` + "`identity_id`" + ` | Registered recipient the copy was issued under |
| ` + "`artifact_ref`" + ` | Path of the artifact inside the artifact store |
| ` + "`marker_token`" + ` | ` + "`{name}_{email}_{SUFFIX}`" + `, suffix is 6 chars of A-Z0-9 |
| ` + "`fingerprint`" + ` | SHA-256 of the artifact bytes, 64 lowercase hex chars |
| ` + "`perturbation`" + ` | Pixel sites changed while embedding (see below) |
| ` + "`connected_name`" + ` | Who the copy was handed to |
| ` + "`issued_at`" + ` | RFC 3339 timestamp |

## Perturbation record

Stored as JSON:

` + "```" + `json
{"version":1,"sites":[{"x":3,"y":7,"color":[12,130,4]}]}
` + "```" + `

- Sites are listed in the order they were applied; a coordinate may repeat
  and the last write wins.
- ` + "`color`" + ` is the resulting R,G,B after a shift of at most 5 per channel,
  wrapped modulo 256. Alpha is never changed.
- Records that are not valid JSON, carry unknown fields, a version other
  than 1, negative coordinates or a colour without exactly three 0-255
  channels are rejected.

## Attribution

1. Fingerprint the suspect file's bytes exactly as received.
2. Look the fingerprint up; the earliest entry wins.
3. A miss means "not issued by this ledger". Any re-encode, crop or
   metadata edit changes the fingerprint and therefore misses.

## Tools

- ` + "`scan_artifact`" + `: attribute a file on the server's disk.
- ` + "`lookup_fingerprint`" + `: resolve a known digest.
- ` + "`list_issuances`" + `: every entry issued under an email.
- ` + "`issue_artifact`" + `: issue a marked copy from a data URI or http(s) URL.
`
