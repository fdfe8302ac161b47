package api

import (
	"net/http"
	"strconv"
)

// Page sizing mirrors the read clients' expectations: a default page of 100
// and a hard ceiling of 250 rows per request.
const (
	defaultPageSize = 100
	maxPageSize     = 250
)

// page is the pagination envelope every list endpoint returns. Next and
// Previous are absolute request paths or null at either end of the set.
type page struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// pageParams reads limit/offset from the query string, clamping both into
// their sane ranges. Bad values fall back to the defaults rather than
// erroring; paging params are never worth a 400.
func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}

// paginate wraps one result window in the envelope, deriving the next and
// previous links from the request URL
func paginate(r *http.Request, count int64, limit, offset int, results any) page {
	p := page{Count: count, Results: results}
	if int64(offset+limit) < count {
		p.Next = pageLink(r, limit, offset+limit)
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		p.Previous = pageLink(r, limit, prev)
	}
	return p
}

func pageLink(r *http.Request, limit, offset int) *string {
	u := *r.URL
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	link := u.String()
	return &link
}
