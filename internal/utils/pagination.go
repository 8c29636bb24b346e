package utils

import (
	"strconv" // String conversion

	"github.com/gin-gonic/gin" // Gin web framework
)

// Page size bounds shared by every listing
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a parsed page/page_size pair
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// ParsePage reads page and page_size from the query, ignoring invalid values
func ParsePage(c *gin.Context) Page {
	p := Page{Page: 1, PageSize: DefaultPageSize}
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		p.Page = v // Set page if valid
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= MaxPageSize {
		p.PageSize = v // Set page size if valid
	}
	return p
}

// Offset is the number of rows to skip
func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

// TotalPages rounds up
func (p Page) TotalPages(total int64) int {
	return (int(total) + p.PageSize - 1) / p.PageSize
}

// Suffix is appended to cache keys of paginated results
func (p Page) Suffix() string {
	return "page:" + strconv.Itoa(p.Page) + ":size:" + strconv.Itoa(p.PageSize)
}
