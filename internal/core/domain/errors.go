package domain

import "fmt"

// Tagged error kinds surfaced across subsystem boundaries. Document
// level failures are recorded on the certificate state; dataset level
// failures abort the run.

// DownloadError reports a non-200 or timed-out document fetch.
type DownloadError struct {
	URL  string
	Code int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download-failed(%s, %d)", e.URL, e.Code)
}

// ConvertError reports a non-zero exit of the PDF-to-text tool.
type ConvertError struct {
	Path string
	Err  error
}

func (e *ConvertError) Error() string { return fmt.Sprintf("convert-failed(%s)", e.Path) }
func (e *ConvertError) Unwrap() error { return e.Err }

// ExtractError reports a decoding or parsing failure on document text.
type ExtractError struct {
	Path   string
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract-failed(%s, %s)", e.Path, e.Reason)
}

// AmbiguousRuleError reports equally weighted incompatible candidates
// during canonicalization.
type AmbiguousRuleError struct {
	Field      string
	Candidates []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("rule-ambiguous(%s, %v)", e.Field, e.Candidates)
}

// DanglingReferenceError reports a cert id that matched no digest.
type DanglingReferenceError struct {
	ID string
}

func (e *DanglingReferenceError) Error() string { return fmt.Sprintf("reference-dangling(%s)", e.ID) }

// MissingExpansionError reports a criteria id absent from the CPE
// match-string dictionary.
type MissingExpansionError struct {
	CriteriaID string
}

func (e *MissingExpansionError) Error() string {
	return fmt.Sprintf("match-expansion-missing(%s)", e.CriteriaID)
}

// ReplayMismatchError reports that diff replay did not reproduce the
// live record for a digest.
type ReplayMismatchError struct {
	DGST string
}

func (e *ReplayMismatchError) Error() string { return fmt.Sprintf("replay-mismatch(%s)", e.DGST) }
