// Package review defines the review statuses an intake can occupy.
//
// Any known status may follow any other; the fixed ordering below is used
// only to render progress.
package review

import (
	"errors"
	"strings"
)

// Status is a review stage label.
type Status string

const (
	Received              Status = "received"
	InReview              Status = "in_review"
	AwaitingDocuments     Status = "awaiting_documents"
	AwaitingAuthorization Status = "awaiting_authorization"
	ReadyToFile           Status = "ready_to_file"
	Filed                 Status = "filed"
)

// ErrUnknownStatus is returned for values outside the six known statuses.
var ErrUnknownStatus = errors.New("Invalid review status.")

var details = map[Status]string{
	Received:              "Intake received. Your preparer will begin review shortly.",
	InReview:              "Your preparer is validating documents and confirming filing details.",
	AwaitingDocuments:     "Additional documents requested. Upload via the client dashboard.",
	AwaitingAuthorization: "Form 8879 is required before e-file can proceed.",
	ReadyToFile:           "All items verified. Your return is queued for e-file.",
	Filed:                 "Return transmitted to the IRS. Confirmation pending.",
}

var ranks = map[Status]int{
	Received:              0,
	InReview:              1,
	AwaitingDocuments:     2,
	AwaitingAuthorization: 2,
	ReadyToFile:           3,
	Filed:                 4,
}

// All returns every status in display order.
func All() []Status {
	return []Status{Received, InReview, AwaitingDocuments, AwaitingAuthorization, ReadyToFile, Filed}
}

// IsKnown reports whether s is one of the six statuses (exact, case-sensitive).
func IsKnown(s string) bool {
	_, ok := ranks[Status(s)]
	return ok
}

// Parse trims s and validates it.
func Parse(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if !IsKnown(s) {
		return "", ErrUnknownStatus
	}
	return Status(s), nil
}

// OrDefault maps empty or unknown stored values to Received.
func OrDefault(s string) Status {
	if IsKnown(s) {
		return Status(s)
	}
	return Received
}

// Rank is the position on the progress indicator. Both awaiting states share
// the rank after in_review.
func Rank(s Status) int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return 0
}

// Steps is the number of distinct progress positions.
func Steps() int { return ranks[Filed] + 1 }

// Detail is the client-facing sentence for s; unknown values get Received's.
func Detail(s Status) string {
	if d, ok := details[s]; ok {
		return d
	}
	return details[Received]
}

// Label is a human title, e.g. "Awaiting Documents".
func (s Status) Label() string {
	parts := strings.Split(string(s), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func (s Status) String() string { return string(s) }
