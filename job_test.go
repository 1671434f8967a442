package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobCanceled, true},
		{JobQueued, JobSucceeded, false},
		{JobRunning, JobSucceeded, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobCanceled, true},
		{JobRunning, JobRunning, false},
		{JobRunning, JobQueued, false},
		{JobSucceeded, JobFailed, false},
		{JobCanceled, JobRunning, false},
		{JobFailed, JobQueued, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAllowedFrom(t *testing.T) {
	assert.Equal(t, []JobStatus{JobQueued}, AllowedFrom(JobRunning))
	assert.Equal(t, []JobStatus{JobQueued, JobRunning}, AllowedFrom(JobCanceled))
	assert.Equal(t, []JobStatus{JobRunning}, AllowedFrom(JobSucceeded))
	assert.Empty(t, AllowedFrom(JobQueued))
}

func TestTransitionError_Is(t *testing.T) {
	active := &TransitionError{JobID: "j", From: JobRunning, To: JobRunning}
	assert.ErrorIs(t, active, ErrInvalidTransition)
	assert.ErrorIs(t, active, ErrJobActive)

	done := &TransitionError{JobID: "j", From: JobSucceeded, To: JobRunning}
	assert.ErrorIs(t, done, ErrInvalidTransition)
	assert.NotErrorIs(t, done, ErrJobActive)
}
