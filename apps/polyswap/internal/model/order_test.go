package model

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusDraft, StatusLive, true},
		{StatusLive, StatusFilled, true},
		{StatusLive, StatusCanceled, true},
		{StatusDraft, StatusFilled, false},
		{StatusDraft, StatusCanceled, false},
		{StatusLive, StatusDraft, false},
		{StatusFilled, StatusLive, false},
		{StatusFilled, StatusCanceled, false},
		{StatusCanceled, StatusLive, false},
		{StatusCanceled, StatusFilled, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
