package repo

import "testing"

func TestVectorToString(t *testing.T) {
	cases := []struct {
		name   string
		vector []float64
		want   string
	}{
		{"empty", nil, "[]"},
		{"single", []float64{0.5}, "[0.5]"},
		{"multiple", []float64{1, -0.25, 0.125}, "[1,-0.25,0.125]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := vectorToString(tc.vector); got != tc.want {
				t.Fatalf("vectorToString(%v) = %q, want %q", tc.vector, got, tc.want)
			}
		})
	}
}
