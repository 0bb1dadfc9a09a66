package toolkit

import (
	"path/filepath"
	"regexp"
	"strings"
)

// uidValueRE matches a canonical dotted-numeric DICOM UID.
var uidValueRE = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)+`)

// Dump-text tag extractions: SOP Instance UID and Transfer Syntax UID.
var (
	uidTag00080018RE = regexp.MustCompile(`(?i)\(0008,0018\)[^\[]*\[([^\]]*)\]`)
	uidTag00020010RE = regexp.MustCompile(`(?i)\(0002,0010\)[^\[]*\[([^\]]*)\]`)
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// SanitizeUID extracts the first dotted-numeric UID from value, or empty.
func SanitizeUID(value string) string {
	return uidValueRE.FindString(strings.TrimSpace(value))
}

// NormalizeUIDCandidate collapses whitespace before sanitizing. Dump output
// can wrap long UID values across lines.
func NormalizeUIDCandidate(value string) string {
	compact := whitespaceRE.ReplaceAllString(strings.TrimSpace(value), "")

	return SanitizeUID(compact)
}

// ExtractUIDTags pulls the SOP Instance UID and Transfer Syntax UID out of
// metadata-dump text.
func ExtractUIDTags(dumpText string) (iuid, tsUID string) {
	if m := uidTag00080018RE.FindStringSubmatch(dumpText); m != nil {
		iuid = NormalizeUIDCandidate(m[1])
	}

	if m := uidTag00020010RE.FindStringSubmatch(dumpText); m != nil {
		tsUID = NormalizeUIDCandidate(m[1])
	}

	return iuid, tsUID
}

// LooksLikeDICOMPayloadFile reports whether a path plausibly names an image
// instance: a known payload extension, or an extensionless dotted-numeric
// name. DICOMDIR index files are never payload.
func LooksLikeDICOMPayloadFile(path string) bool {
	name := filepath.Base(path)
	if strings.ToUpper(name) == "DICOMDIR" {
		return false
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".dcm", ".dicom", ".ima":
		return true
	case "":
		return SanitizeUID(name) != ""
	}

	return false
}
