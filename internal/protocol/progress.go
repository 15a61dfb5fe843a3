package protocol

import (
	"sort"
	"sync"
)

// ProgressStatus is the lifecycle stage reported for a model file.
type ProgressStatus string

const (
	ProgressInitiate ProgressStatus = "initiate"
	ProgressDownload ProgressStatus = "download"
	ProgressProgress ProgressStatus = "progress"
	ProgressDone     ProgressStatus = "done"
	ProgressReady    ProgressStatus = "ready"
)

// ProgressInfo is one load progress event.
type ProgressInfo struct {
	Status ProgressStatus `json:"status"`

	// Name is the model (or repository) the file belongs to.
	Name string `json:"name,omitempty"`

	// File is the file being fetched.
	File string `json:"file,omitempty"`

	// Progress is the per-file percentage, 0 to 100.
	Progress float64 `json:"progress,omitempty"`

	Loaded int64 `json:"loaded,omitempty"`
	Total  int64 `json:"total,omitempty"`
}

type fileProgress struct {
	loaded, total int64
	done          bool
}

// ProgressTracker aggregates per-file progress events into an overall
// percentage. It is safe for concurrent use.
type ProgressTracker struct {
	mu    sync.Mutex
	files map[string]*fileProgress
	ready bool
}

// NewProgressTracker returns an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{files: make(map[string]*fileProgress)}
}

// Update applies one progress event.
func (t *ProgressTracker) Update(p ProgressInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.Status == ProgressReady {
		t.ready = true
		for _, f := range t.files {
			f.done = true
		}
		return
	}

	key := p.Name + "/" + p.File
	f, ok := t.files[key]
	if !ok {
		f = &fileProgress{}
		t.files[key] = f
	}

	switch p.Status {
	case ProgressInitiate, ProgressDownload:
	case ProgressProgress:
		f.loaded, f.total = p.Loaded, p.Total
	case ProgressDone:
		f.done = true
		if p.Total > 0 {
			f.total = p.Total
		}
		f.loaded = f.total
	}
}

// Overall returns the aggregated percentage in [0, 100]. It is 100 once every
// known file is done (or a ready event arrived) and 0 when nothing is known.
func (t *ProgressTracker) Overall() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.files) == 0 {
		if t.ready {
			return 100
		}
		return 0
	}

	var loaded, total int64
	allDone := true
	for _, f := range t.files {
		loaded += f.loaded
		total += f.total
		if !f.done {
			allDone = false
		}
	}
	if allDone {
		return 100
	}
	if total <= 0 {
		return 0
	}
	return min(max(float64(loaded)/float64(total)*100, 0), 100)
}

// Pending returns the files that are not done yet, sorted.
func (t *ProgressTracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for k, f := range t.files {
		if !f.done {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
