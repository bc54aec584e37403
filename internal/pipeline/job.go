package pipeline

import "sync"

// Status is a SiteJob's position in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusFetching   Status = "fetching"
	StatusExtracting Status = "extracting"
	StatusDone       Status = "done"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusFetching:   1,
	StatusExtracting: 2,
	StatusDone:       3,
	StatusSkipped:    3,
	StatusFailed:     3,
}

// Terminal reports whether s ends a job's lifecycle.
func (s Status) Terminal() bool {
	return statusRank[s] == 3
}

// Failure reason codes reported with skipped and failed outcomes.
const (
	ReasonBlocked             = "blocked"
	ReasonTimeout             = "timeout"
	ReasonHTTPError           = "http_error"
	ReasonNoExtractableHTML   = "no_extractable_content"
	ReasonNoProducts          = "no_products_extracted"
	ReasonDeadlineExceeded    = "deadline_exceeded"
	ReasonTooManyProductFails = "too_many_product_failures"
	ReasonCancelled           = "cancelled"
)

// SiteJob is one URL's unit of work. The worker owns it while running;
// transitions are monotonic and exactly one terminal status is ever
// recorded.
type SiteJob struct {
	URL         string
	SiteLabel   string
	MaxProducts int

	mu       sync.Mutex
	status   Status
	strategy string
	reason   string
	products int
}

func NewSiteJob(url, siteLabel string, maxProducts int) *SiteJob {
	return &SiteJob{
		URL:         url,
		SiteLabel:   siteLabel,
		MaxProducts: maxProducts,
		status:      StatusPending,
	}
}

// Transition advances the job to next. Regressions and transitions out
// of a terminal status are refused.
func (j *SiteJob) Transition(next Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() || statusRank[next] <= statusRank[j.status] {
		return false
	}
	j.status = next
	return true
}

// Finish records the terminal outcome. Only the first call wins.
func (j *SiteJob) Finish(status Status, reason string) bool {
	if !status.Terminal() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return false
	}
	j.status = status
	j.reason = reason
	return true
}

func (j *SiteJob) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *SiteJob) Reason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}

// SetStrategy records which extraction strategy won on this site.
func (j *SiteJob) SetStrategy(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.strategy = name
}

func (j *SiteJob) Strategy() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.strategy
}

// SetProductCount records how many normalized products the job yielded.
func (j *SiteJob) SetProductCount(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.products = n
}

// Outcome renders the job's final state for the run summary.
func (j *SiteJob) Outcome() SiteOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return SiteOutcome{
		SiteLabel: j.SiteLabel,
		URL:       j.URL,
		Status:    j.status,
		Strategy:  j.strategy,
		Products:  j.products,
		Reason:    j.reason,
	}
}
