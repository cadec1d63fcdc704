package detection

import (
	"testing"

	"guardian/internal/models"

	"github.com/stretchr/testify/assert"
)

func labels(dets []models.Detection) []string {
	out := make([]string, len(dets))
	for i, d := range dets {
		out[i] = d.Label
	}
	return out
}

func TestFilter(t *testing.T) {
	input := []models.Detection{
		det("person", 0.4, 0, 0, 10, 10),
		det("person", 0.5, 0, 0, 10, 10),
		det("car", 0.9, 0, 0, 10, 10),
		det("dog", 0.99, 0, 0, 10, 10),
	}

	tests := []struct {
		name string
		cfg  FilterConfig
		want []string
	}{
		{
			name: "Threshold is inclusive",
			cfg:  FilterConfig{MinConfidence: 0.5},
			want: []string{"person", "car", "dog"},
		},
		{
			name: "Allow-list",
			cfg:  FilterConfig{MinConfidence: 0.5, Classes: []string{"person", "car"}},
			want: []string{"person", "car"},
		},
		{
			name: "Cap keeps highest confidence",
			cfg:  FilterConfig{MinConfidence: 0.1, MaxDetections: 2},
			want: []string{"dog", "car"},
		},
		{
			name: "Nothing passes",
			cfg:  FilterConfig{MinConfidence: 1},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labels(Filter(input, tt.cfg)))
		})
	}
}

func TestFilterDoesNotReorderInput(t *testing.T) {
	input := []models.Detection{
		det("a", 0.6, 0, 0, 10, 10),
		det("b", 0.9, 0, 0, 10, 10),
		det("c", 0.7, 0, 0, 10, 10),
	}
	Filter(input, FilterConfig{MaxDetections: 1})
	assert.Equal(t, []string{"a", "b", "c"}, labels(input))
}
