package api

import (
	"net/http"
	"strconv"

	"github.com/jdholdren/digest/internal/digest"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type paginationMeta struct {
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	Total      int  `json:"total"`
	NextOffset *int `json:"next_offset"`
}

// parsePagination reads ?offset=20&limit=10, falling back to the default page
// for anything missing or out of range.
func parsePagination(r *http.Request) digest.ListArgs {
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	return digest.ListArgs{Limit: uint64(limit), Offset: uint64(offset)}
}

func pagination(args digest.ListArgs, total int) paginationMeta {
	meta := paginationMeta{
		Limit:  int(args.Limit),
		Offset: int(args.Offset),
		Total:  total,
	}
	if next := meta.Offset + meta.Limit; next < total {
		meta.NextOffset = &next
	}

	return meta
}
