package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionAllowed(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusScheduled, StatusClosed, true},
		{StatusScheduled, StatusCanceled, true},
		{StatusClosed, StatusScheduled, true},
		{StatusClosed, StatusCanceled, true},
		{StatusCanceled, StatusScheduled, false},
		{StatusCanceled, StatusClosed, false},
		{StatusScheduled, StatusScheduled, false},
		{StatusClosed, StatusClosed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, TransitionAllowed(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}
