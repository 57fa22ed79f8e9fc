package datetime

import (
	"testing"
	"time"
)

func TestOrdinalSuffix(t *testing.T) {
	tests := []struct {
		day  int
		want string
	}{
		// Standard cases
		{1, "st"},
		{2, "nd"},
		{3, "rd"},
		{4, "th"},
		{5, "th"},
		{9, "th"},
		{10, "th"},

		// Special cases: 11, 12, 13 always use "th"
		{11, "th"},
		{12, "th"},
		{13, "th"},

		// 21, 22, 23
		{21, "st"},
		{22, "nd"},
		{23, "rd"},
		{24, "th"},

		// 31
		{31, "st"},

		// Edge cases
		{0, "th"},
		{100, "th"},
		{101, "st"},
		{111, "th"}, // 111 ends in 11
		{112, "th"}, // 112 ends in 12
		{113, "th"}, // 113 ends in 13
	}

	for _, tt := range tests {
		t.Run(string(rune('0'+tt.day%10)), func(t *testing.T) {
			got := OrdinalSuffix(tt.day)
			if got != tt.want {
				t.Errorf("OrdinalSuffix(%d) = %q, want %q", tt.day, got, tt.want)
			}
		})
	}
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2025, 1, 24, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		time time.Time
		want string
	}{
		// Past times
		{
			name: "just now",
			time: now.Add(-30 * time.Second),
			want: "just now",
		},
		{
			name: "1 minute ago",
			time: now.Add(-1 * time.Minute),
			want: "1 minute ago",
		},
		{
			name: "5 minutes ago",
			time: now.Add(-5 * time.Minute),
			want: "5 minutes ago",
		},
		{
			name: "1 hour ago",
			time: now.Add(-1 * time.Hour),
			want: "1 hour ago",
		},
		{
			name: "3 hours ago",
			time: now.Add(-3 * time.Hour),
			want: "3 hours ago",
		},
		{
			name: "yesterday",
			time: now.Add(-24 * time.Hour),
			want: "yesterday",
		},
		{
			name: "3 days ago",
			time: now.Add(-3 * 24 * time.Hour),
			want: "3 days ago",
		},
		{
			name: "1 week ago",
			time: now.Add(-7 * 24 * time.Hour),
			want: "1 week ago",
		},
		{
			name: "2 weeks ago",
			time: now.Add(-14 * 24 * time.Hour),
			want: "2 weeks ago",
		},
		{
			name: "1 month ago",
			time: now.Add(-30 * 24 * time.Hour),
			want: "1 month ago",
		},
		{
			name: "6 months ago",
			time: now.Add(-180 * 24 * time.Hour),
			want: "6 months ago",
		},
		{
			name: "1 year ago",
			time: now.Add(-365 * 24 * time.Hour),
			want: "1 year ago",
		},
		{
			name: "2 years ago",
			time: now.Add(-730 * 24 * time.Hour),
			want: "2 years ago",
		},

		// Future times
		{
			name: "in a moment",
			time: now.Add(30 * time.Second),
			want: "in a moment",
		},
		{
			name: "in 1 minute",
			time: now.Add(1 * time.Minute),
			want: "in 1 minute",
		},
		{
			name: "in 5 minutes",
			time: now.Add(5 * time.Minute),
			want: "in 5 minutes",
		},
		{
			name: "in 1 hour",
			time: now.Add(1 * time.Hour),
			want: "in 1 hour",
		},
		{
			name: "tomorrow",
			time: now.Add(24 * time.Hour),
			want: "tomorrow",
		},
		{
			name: "in 3 days",
			time: now.Add(3 * 24 * time.Hour),
			want: "in 3 days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatRelativeTime(tt.time, now)
			if got != tt.want {
				t.Errorf("FormatRelativeTime() = %q, want %q", got, tt.want)
			}
		})
	}
}
