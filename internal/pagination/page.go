// Package pagination provides page/limit pagination utilities.
package pagination

import (
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage keeps (Page-1)*MaxLimit inside int64 and a Postgres OFFSET.
	MaxPage = math.MaxInt32
)

// Params is a normalized page request. Page is 1-based.
type Params struct {
	Page  int
	Limit int
}

// Parse reads page and limit query values. Missing, malformed or
// out-of-range values are clamped rather than rejected.
func Parse(page, limit string) Params {
	p := Params{Page: DefaultPage, Limit: DefaultLimit}
	if n, err := strconv.Atoi(strings.TrimSpace(page)); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil {
		p.Limit = n
	}
	return p.Normalize()
}

// Normalize clamps Page to [1, MaxPage] and Limit to [1, MaxLimit].
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Offset returns the number of items before the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Page is the pagination block returned with a list.
type Page struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPage builds the response block for p and a total item count.
func NewPage(p Params, total int) Page {
	return Page{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: TotalPages(total, p.Limit),
	}
}

// TotalPages returns ceil(total/limit).
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Window returns the [start, end) slice bounds of the page within n items.
func (p Params) Window(n int) (int, int) {
	start := p.Offset()
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := start + p.Limit
	if end > n || end < start {
		end = n
	}
	return start, end
}
