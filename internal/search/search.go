package search

import (
	"strings"

	"github.com/ac484/Xuanwu-sub001/internal/live"
)

// ResultType identifies the kind of record in a search result.
type ResultType string

const (
	ResultTask  ResultType = "task"
	ResultIssue ResultType = "issue"
	ResultFile  ResultType = "file"
	ResultDaily ResultType = "daily"
)

var resultTypes = []ResultType{ResultTask, ResultIssue, ResultFile, ResultDaily}

// TypeFor maps a live collection onto its result type.
func TypeFor(c live.Collection) (ResultType, bool) {
	switch c {
	case live.Tasks:
		return ResultTask, true
	case live.Issues:
		return ResultIssue, true
	case live.Files:
		return ResultFile, true
	case live.DailyLog:
		return ResultDaily, true
	default:
		return "", false
	}
}

func ParseType(raw string) (ResultType, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	for _, t := range resultTypes {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	SpaceID string     `json:"spaceId,omitempty"`
}

// Query describes a search request. AccountID is always required.
type Query struct {
	AccountID  string
	SpaceID    string
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Document is what gets indexed for one record.
type Document struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	SpaceID   string `json:"spaceId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Status    string `json:"status"`
}

// DocumentFor builds the index document of a live record.
func DocumentFor(c live.Collection, r live.Record) (ResultType, Document, bool) {
	typ, ok := TypeFor(c)
	if !ok {
		return "", Document{}, false
	}
	doc := Document{ID: r.ID, AccountID: r.AccountID, SpaceID: r.SpaceID, Status: text(r, "status")}
	switch typ {
	case ResultTask:
		doc.Title = text(r, "title")
		doc.Body = text(r, "assignee")
	case ResultIssue:
		doc.Title = text(r, "title")
		doc.Body = text(r, "body")
	case ResultFile:
		doc.Title = text(r, "name")
		doc.Body = text(r, "contentType")
	case ResultDaily:
		doc.Title = truncate(text(r, "content"), 80)
		doc.Body = text(r, "content")
	}
	return typ, doc, true
}

func text(r live.Record, key string) string {
	value, _ := r.Fields[key].(string)
	return value
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
