// Package screen inspects uploaded file bytes before anything is stored.
//
// Checks run in a fixed order and stop at the first rejection: container
// signature, antivirus test string, then the SSN-shaped text heuristic, which
// flags but never rejects.
package screen

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxScanBytes bounds how much of a file is inspected.
const MaxScanBytes = 200000

const (
	eicarMarker        = "EICAR-STANDARD-ANTIVIRUS-TEST-FILE"
	defaultBlockReason = "Upload blocked by security screening."
)

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("screen: file rejected")

var signatures = map[string][]byte{
	"application/pdf": {0x25, 0x50, 0x44, 0x46},
	"image/png":       {0x89, 0x50, 0x4e, 0x47},
	"image/jpeg":      {0xff, 0xd8, 0xff},
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Leading sentinel byte stands in for ^ so every candidate needs one non-digit
// before it. The trailing "not followed by a digit" rule is checked by hand.
var ssnPattern = regexp.MustCompile(`\D\d{3}-?\d{2}-?\d{4}`)

// File is one upload candidate.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is the outcome for one file.
type Result struct {
	Name         string `json:"name"`
	OK           bool   `json:"ok"`
	Malware      bool   `json:"malware"`
	DLP          bool   `json:"dlp"`
	Message      string `json:"message,omitempty"`
	DetectedType string `json:"detected_type,omitempty"`
}

// RejectedError names the file and the reason it was refused.
type RejectedError struct {
	Name   string
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Err returns a *RejectedError for a failed result, nil otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	reason := r.Message
	if reason == "" {
		reason = defaultBlockReason
	}
	return &RejectedError{Name: r.Name, Reason: reason}
}

// Outcome is the metrics label for a result: clean, dlp or rejected.
func (r Result) Outcome() string {
	switch {
	case !r.OK:
		return "rejected"
	case r.DLP:
		return "dlp"
	default:
		return "clean"
	}
}

// ExpectedSignature resolves magic bytes from the declared type, falling back
// to the extension. ok is false when neither is recognised.
func ExpectedSignature(contentType, name string) ([]byte, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if sig, ok := signatures[ct]; ok {
		return sig, true
	}
	if mapped, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return signatures[mapped], true
	}
	return nil, false
}

// Screen runs all checks against the leading bytes of f.
func Screen(f File) Result {
	prefix := f.Data
	if len(prefix) > MaxScanBytes {
		prefix = prefix[:MaxScanBytes]
	}
	res := Result{Name: f.Name, DetectedType: mimetype.Detect(prefix).String()}

	if sig, ok := ExpectedSignature(f.ContentType, f.Name); ok && !bytes.HasPrefix(prefix, sig) {
		res.Malware = true
		res.Message = fmt.Sprintf("File signature mismatch detected in %s.", f.Name)
		return res
	}

	text := strings.ToValidUTF8(string(prefix), "\uFFFD")
	if strings.Contains(text, eicarMarker) {
		res.Malware = true
		res.Message = fmt.Sprintf("Malware test signature detected in %s.", f.Name)
		return res
	}

	res.OK = true
	if ContainsSSN(text) {
		res.DLP = true
		res.Message = fmt.Sprintf("Sensitive data detected in %s.", f.Name)
	}
	return res
}

// ContainsSSN reports a 3-2-4 digit group with optional dashes that is not
// glued to further digits on either side.
func ContainsSSN(text string) bool {
	s := "\x00" + text
	for offset := 0; offset < len(s); {
		loc := ssnPattern.FindStringIndex(s[offset:])
		if loc == nil {
			return false
		}
		end := offset + loc[1]
		if end >= len(s) || !isDigit(s[end]) {
			return true
		}
		offset += loc[0] + 1
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
