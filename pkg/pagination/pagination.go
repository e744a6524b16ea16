package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 50
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts limit and offset query parameters. A missing or
// non-positive limit falls back to DefaultLimit and values above maxLimit
// are clamped; maxLimit <= 0 means MaxLimit.
func FromContext(c echo.Context, maxLimit int) Params {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Meta describes the page that was returned. Search results carry no total,
// so HasMore is true whenever the page came back full.
type Meta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Count   int  `json:"count"`
	HasMore bool `json:"hasMore"`
}

// Response wraps a paginated API response in the success envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

func NewResponse(data interface{}, count int, p Params) *Response {
	return &Response{
		Success: true,
		Data:    data,
		Meta: Meta{
			Limit:   p.Limit,
			Offset:  p.Offset,
			Count:   count,
			HasMore: count > 0 && count >= p.Limit,
		},
	}
}
