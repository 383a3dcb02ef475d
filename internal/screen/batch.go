package screen

import "fmt"

// ProgressFunc receives one status line before each file is screened.
type ProgressFunc func(message string)

// BatchResult summarises a sequential scan of one logical upload.
type BatchResult struct {
	OK       bool     `json:"ok"`
	Message  string   `json:"message,omitempty"`
	DLPHits  int      `json:"dlp_hits"`
	Warnings []string `json:"warnings,omitempty"`
	Results  []Result `json:"results"`
}

// Err returns the rejection of the failing file, nil when the batch passed.
func (b BatchResult) Err() error {
	if b.OK {
		return nil
	}
	if n := len(b.Results); n > 0 {
		return b.Results[n-1].Err()
	}
	return &RejectedError{Reason: b.Message}
}

// ScanBatch screens files in order and stops at the first rejection. Results
// holds every file examined, the failing one last.
func ScanBatch(files []File, progress ProgressFunc) BatchResult {
	out := BatchResult{Results: make([]Result, 0, len(files))}
	for i, f := range files {
		if progress != nil {
			progress(fmt.Sprintf("Screening %s (%d of %d)...", f.Name, i+1, len(files)))
		}
		res := Screen(f)
		out.Results = append(out.Results, res)
		if !res.OK {
			out.Message = res.Message
			if out.Message == "" {
				out.Message = defaultBlockReason
			}
			out.DLPHits = 0
			out.Warnings = nil
			return out
		}
		if res.DLP {
			out.DLPHits++
			out.Warnings = append(out.Warnings, res.Message)
		}
	}
	out.OK = true
	return out
}

// Lookup returns the result for name, if it was scanned.
func (b BatchResult) Lookup(name string) (Result, bool) {
	for _, r := range b.Results {
		if r.Name == name {
			return r, true
		}
	}
	return Result{}, false
}
