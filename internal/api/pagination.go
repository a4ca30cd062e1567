package api

import (
	"net/url"
	"strconv"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Offset is the number of rows before the first row of the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// pageFromQuery reads ?page= and ?limit=. Bad or missing values fall back to
// the first page of defaultPageSize; the size never exceeds maxPageSize.
func pageFromQuery(q url.Values) Page {
	p := Page{Number: positiveInt(q.Get("page"), 1), Size: positiveInt(q.Get("limit"), defaultPageSize)}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func positiveInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// listResponse is the envelope for every paginated list endpoint.
type listResponse struct {
	Data       any      `json:"data"`
	Pagination pageMeta `json:"pagination"`
}

type pageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

func pageOf(data any, p Page, total int) listResponse {
	pages := (total + p.Size - 1) / p.Size
	if pages < 1 {
		pages = 1
	}
	return listResponse{
		Data: data,
		Pagination: pageMeta{
			Page:       p.Number,
			Limit:      p.Size,
			Total:      total,
			TotalPages: pages,
			HasMore:    p.Number < pages,
		},
	}
}
