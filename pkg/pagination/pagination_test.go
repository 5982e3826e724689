package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultcall-backend/pkg/constants"
)

func TestParsePaginationParams(t *testing.T) {
	tests := []struct {
		name       string
		page       string
		limit      string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", "", 1, constants.DefaultPageSize, 0},
		{"third page", "3", "10", 3, 10, 20},
		{"page below one", "-2", "10", 1, 10, 0},
		{"limit below one", "1", "0", 1, MinLimit, 0},
		{"limit above max", "2", "1000", 2, constants.MaxPageSize, constants.MaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParsePaginationParams(tt.page, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, params.Page)
			assert.Equal(t, tt.wantLimit, params.Limit)
			assert.Equal(t, tt.wantOffset, params.Offset)
		})
	}

	_, err := ParsePaginationParams("one", "10")
	assert.Error(t, err)
	_, err = ParsePaginationParams("1", "ten")
	assert.Error(t, err)
}

func TestBuildPaginationResponse(t *testing.T) {
	resp := BuildPaginationResponse(&PaginationParams{Page: 2, Limit: 20, Offset: 20}, 41, []int{1})

	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 3, resp.TotalPages)
	assert.Equal(t, int64(41), resp.Total)
	assert.Equal(t, 0, CalculateTotalPages(10, 0))
	assert.Equal(t, 0, CalculateTotalPages(0, 20))
}
