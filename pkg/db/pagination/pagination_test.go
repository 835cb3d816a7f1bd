package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginationOffsetAndLimit(t *testing.T) {
	tests := []struct {
		name   string
		in     Pagination
		offset int
		limit  int
	}{
		{name: "zero value", in: Pagination{}, offset: 0, limit: DefaultPageSize},
		{name: "third page", in: Pagination{Page: 3, PageSize: 20}, offset: 40, limit: 20},
		{name: "clamped", in: Pagination{Page: 2, PageSize: 5000}, offset: MaxPageSize, limit: MaxPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.offset, tt.in.Offset())
			assert.Equal(t, tt.limit, tt.in.Limit())
		})
	}
}

func TestBuildPageInfo(t *testing.T) {
	info := BuildPageInfo(Pagination{Page: 1, PageSize: 10}, 25)
	assert.Equal(t, int64(3), info.TotalPages)
	assert.True(t, info.HasMore)

	last := BuildPageInfo(Pagination{Page: 3, PageSize: 10}, 25)
	assert.False(t, last.HasMore)

	empty := BuildPageInfo(Pagination{}, 0)
	assert.Equal(t, int64(0), empty.TotalPages)
	assert.False(t, empty.HasMore)
}
