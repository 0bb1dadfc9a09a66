package artifacts

// Per-file send statuses.
const (
	SendStatusSentOK      = "SENT_OK"
	SendStatusSendFail    = "SEND_FAIL"
	SendStatusSentUnknown = "SENT_UNKNOWN"
	SendStatusNonDICOM    = "NON_DICOM"
	SendStatusUnsupported = "UNSUPPORTED_DICOM_OBJECT"
)

// IUID provenance tags recorded in the extract_status column.
const (
	ExtractOK                   = "OK"
	ExtractOKFromStorescu       = "OK_FROM_STORESCU"
	ExtractOKFromStorescuRT     = "OK_FROM_STORESCU_REALTIME"
	ExtractErrFromStorescu      = "ERR_FROM_STORESCU"
	ExtractErrFromStorescuRT    = "ERR_FROM_STORESCU_REALTIME"
	ExtractRequestedNoRsp       = "REQUESTED_NO_RSP"
	ExtractProcessExitFail      = "PROCESS_EXIT_FAIL"
	ExtractNoMatch              = "NO_MATCH"
	ExtractNoMatchUIDUnconfirmd = "NO_MATCH_UID_UNCONFIRMED"
	ExtractMissingIUID          = "MISSING_IUID"
	ExtractConsistencyOK        = "CONSISTENCY_OK"
	ExtractReportExportOK       = "REPORT_EXPORT_OK"
	ExtractFilenameFallback     = "FILENAME_FALLBACK"
)

// Selection reasons recorded in the manifest.
const (
	ReasonIncludedExt       = "INCLUDED_EXT"
	ReasonIncludedNoExt     = "INCLUDED_NO_EXT"
	ReasonIncludedAllFiles  = "INCLUDED_ALL_FILES"
	ReasonExcludedExtension = "EXCLUDED_EXTENSION"
)

// Terminal workflow statuses written to summary artifacts.
const (
	SummaryPass             = "PASS"
	SummaryPassWithWarnings = "PASS_WITH_WARNINGS"
	SummaryFail             = "FAIL"
	SummaryInterrupted      = "INTERRUPTED"
	SummaryAlreadySent      = "ALREADY_SENT"
	SummaryAlreadySentPass  = "ALREADY_SENT_PASS"
)

// Validation lookup outcomes.
const (
	LookupOK       = "OK"
	LookupNotFound = "NOT_FOUND"
	LookupAPIError = "API_ERROR"
)

// IsWarningSendStatus reports whether a send status counts as a warning
// rather than a success or failure in summary accounting.
func IsWarningSendStatus(status string) bool {
	switch status {
	case SendStatusNonDICOM, SendStatusUnsupported, SendStatusSentUnknown:
		return true
	}

	return false
}
