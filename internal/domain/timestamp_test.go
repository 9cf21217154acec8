package domain

import "testing"

func TestParseTZOffset(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"", 0, true},
		{"Z", 0, true},
		{"+0000", 0, true},
		{"+0530", 330, true},
		{"-03:30", -210, true},
		{"+1400", 840, true},
		{"+1500", 0, false},
		{"+0560", 0, false},
		{"0530", 0, false},
		{"+05", 0, false},
		{"+ab30", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseTZOffset(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseTZOffset(%q) err=%v，期望成功=%v", tc.in, err, tc.ok)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseTZOffset(%q)=%d，期望 %d", tc.in, got, tc.want)
		}
	}
}

func TestParseTZOffset_RoundTripsFormat(t *testing.T) {
	for _, m := range []int{0, 60, -60, 345, -570, 840} {
		got, err := ParseTZOffset(FormatTZOffset(m))
		if err != nil || got != m {
			t.Fatalf("往返失败：%d -> %q -> %d (err=%v)", m, FormatTZOffset(m), got, err)
		}
	}
}
