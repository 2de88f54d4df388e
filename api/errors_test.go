package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/worktime-engine/worktime"
)

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &worktime.NotFoundError{Resource: "work interval", ID: "x"}, http.StatusNotFound},
		{"range", &worktime.RangeError{Field: "interval duration"}, http.StatusBadRequest},
		{"warning", &worktime.ValidationWarning{EmployeeID: "emp-1"}, http.StatusUnprocessableEntity},
		{"clocked in", fmt.Errorf("emp-1: %w", worktime.ErrAlreadyClockedIn), http.StatusConflict},
		{"open", worktime.ErrIntervalOpen, http.StatusConflict},
		{"stale", fmt.Errorf("iv-1: %w", worktime.ErrSegmentsStale), http.StatusConflict},
		{"recalculation", &worktime.RecalculationFailure{IntervalID: "iv-1", Attempts: 3, Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{"unavailable", worktime.ErrComputationUnavailable, http.StatusServiceUnavailable},
		{"mode", worktime.ErrUnknownMode, http.StatusBadRequest},
		{"canceled", context.Canceled, http.StatusInternalServerError},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorStatus(tc.err))
		})
	}
}

func TestParseWeekday(t *testing.T) {
	d, err := parseWeekday("Monday")
	assert.NoError(t, err)
	assert.Equal(t, "Monday", d.String())

	_, err = parseWeekday("funday")
	assert.Error(t, err)
}
