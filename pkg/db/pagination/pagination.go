package pagination

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

type Pagination struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"limit,default=50"`
}

type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// Normalize clamps page and size into their accepted range.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Pagination) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

func (p Pagination) Limit() int {
	return p.Normalize().PageSize
}

func BuildPageInfo(p Pagination, total int64) PageInfo {
	p = p.Normalize()
	size := int64(p.PageSize)
	pages := (total + size - 1) / size
	return PageInfo{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: pages,
		HasMore:    int64(p.Page) < pages,
	}
}
