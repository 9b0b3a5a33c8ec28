package commands

import "testing"

func TestExitCodeU8(t *testing.T) {
	cases := []struct {
		in   int64
		want int
	}{
		{0, 0},
		{7, 7},
		{255, 255},
		{256, 1},
		{1 << 31, 1},
		{-1, 1},
	}

	for _, c := range cases {
		if got := exitCodeU8(c.in); got != c.want {
			t.Errorf("exitCodeU8(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
