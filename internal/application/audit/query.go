package audit

import (
	"sort"
	"time"

	"github.com/agrichain-api/internal/domain"
)

// Filter narrows a query over the trail. Zero fields match everything.
type Filter struct {
	UserID     string
	Identifier string
	Role       string
	Action     string
	Resource   string
	Severity   string
	IPAddress  string
	Success    *bool
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

const defaultQueryLimit = 100

// QueryResult is one newest-first page of matching entries.
type QueryResult struct {
	Entries []domain.AuditLogEntry `json:"entries"`
	Total   int                    `json:"total"`
	HasMore bool                   `json:"has_more"`
}

func (f Filter) matches(e domain.AuditLogEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Identifier != "" && e.Identifier != f.Identifier {
		return false
	}
	if f.Role != "" && e.Role != f.Role {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Query returns a newest-first page of entries matching the filter.
func (t *Trail) Query(f Filter) QueryResult {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	t.mu.Lock()
	var matched []domain.AuditLogEntry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if f.matches(t.entries[i]) {
			matched = append(matched, t.entries[i])
		}
	}
	t.mu.Unlock()

	total := len(matched)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return QueryResult{
		Entries: matched[start:end],
		Total:   total,
		HasMore: end < total,
	}
}

// Summary aggregates the trail over a time range.
type Summary struct {
	Total        int            `json:"total"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	TopActions   []CountedValue `json:"top_actions"`
	TopUsers     []CountedValue `json:"top_users"`
}

type CountedValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

const summaryTopN = 5

// Summarize counts matching entries and ranks the most frequent actions and
// users within [from, to].
func (t *Trail) Summarize(from, to time.Time) Summary {
	t.mu.Lock()
	actions := make(map[string]int)
	users := make(map[string]int)
	var s Summary
	for _, e := range t.entries {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		s.Total++
		if e.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		actions[e.Action]++
		if e.UserID != "" {
			users[e.UserID]++
		}
	}
	t.mu.Unlock()

	s.TopActions = topN(actions, summaryTopN)
	s.TopUsers = topN(users, summaryTopN)
	return s
}

func topN(counts map[string]int, n int) []CountedValue {
	out := make([]CountedValue, 0, len(counts))
	for v, c := range counts {
		out = append(out, CountedValue{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
