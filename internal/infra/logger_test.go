package infra

import "testing"

func TestLogFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Limit Go", "limit-go.log"},
		{"limitgo", "limitgo.log"},
		{"  Spaced  Name ", "spaced--name.log"},
		{"", "app.log"},
	}

	for _, c := range cases {
		if got := logFileName(c.in); got != c.want {
			t.Errorf("logFileName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
