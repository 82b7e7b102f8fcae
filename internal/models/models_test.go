package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submissions(flags ...bool) []Submission {
	out := make([]Submission, len(flags))
	for i, done := range flags {
		out[i] = Submission{SubmissionID: i + 1, Task: Task{ID: i + 1}, Completed: done}
	}
	return out
}

func TestComputeProgress(t *testing.T) {
	cases := []struct {
		name string
		in   []Submission
		want Progress
	}{
		{"empty", nil, Progress{}},
		{"none done", submissions(false, false), Progress{Total: 2, Pending: 2}},
		{"one of three rounds down", submissions(true, false, false), Progress{Total: 3, Completed: 1, Pending: 2, Percentage: 33}},
		{"two of three rounds up", submissions(true, true, false), Progress{Total: 3, Completed: 2, Pending: 1, Percentage: 67}},
		{"half", submissions(true, false), Progress{Total: 2, Completed: 1, Pending: 1, Percentage: 50}},
		{"all", submissions(true, true, true, true), Progress{Total: 4, Completed: 4, Percentage: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeProgress(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, ComputeProgress(tc.in))
			assert.Equal(t, got.Total-got.Completed, got.Pending)
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, NormalizeRole(UserProfile{IsAdmin: true}))
	assert.Equal(t, RoleStudent, NormalizeRole(UserProfile{}))
	assert.Equal(t, RoleAdmin, NormalizeRole(UserProfile{Role: "ADMIN"}))
	assert.Equal(t, RoleStudent, NormalizeRole(UserProfile{IsAdmin: true, Role: "student"}))
	assert.Equal(t, RoleAdmin, NormalizeRole(UserProfile{Role: "unknown", IsAdmin: true}))
}

func TestSessionValid(t *testing.T) {
	assert.False(t, (*Session)(nil).Valid())
	assert.False(t, (&Session{Token: "t", Username: "ana"}).Valid())
	assert.False(t, (&Session{Username: "ana", Role: RoleStudent}).Valid())
	assert.True(t, (&Session{Token: "t", Username: "ana", Role: RoleStudent}).Valid())
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	s := &Session{ExpiresAt: &past}
	assert.True(t, s.Expired(now))
	assert.False(t, (&Session{}).Expired(now))

	clone := s.Clone()
	*clone.ExpiresAt = now.Add(time.Hour)
	assert.True(t, s.Expired(now))
}

func TestSubmissionDecodesServerPayload(t *testing.T) {
	payload := []byte(`{
		"submission_id": 4,
		"task": {"id": 9, "title": "Line follower", "description": "IR sensors", "image_path": "/uploads/task_1.png",
		         "created_at": "2024-03-15T10:00:00.123456", "due_date": null},
		"completed": true,
		"completed_at": "2024-03-20T08:30:00",
		"notes": null
	}`)

	var sub Submission
	require.NoError(t, json.Unmarshal(payload, &sub))
	assert.Equal(t, 9, sub.TaskID())
	assert.True(t, sub.Completed)
	require.NotNil(t, sub.CompletedAt)
	assert.Equal(t, time.Date(2024, 3, 20, 8, 30, 0, 0, time.UTC), sub.CompletedAt.Time)
	assert.Nil(t, sub.Task.DueDate)
	assert.Equal(t, 123456000, sub.Task.CreatedAt.Nanosecond())
}

func TestTimestampRejectsGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	require.NoError(t, json.Unmarshal([]byte(`"2024-04-01T09:00:00Z"`), &ts))
	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `"2024-04-01T09:00:00Z"`, string(out))
}
