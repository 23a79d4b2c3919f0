package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuestion_Scorable(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		q    Question
		want bool
	}{
		{"public", Question{Status: QuestionStatusPublic}, true},
		{"approved", Question{Status: QuestionStatusApproved}, true},
		{"unset status", Question{}, true},
		{"private", Question{Status: QuestionStatusPrivate}, false},
		{"pending", Question{Status: QuestionStatusPending}, false},
		{"pruned marker set", Question{Status: QuestionStatusPublic, PrunedAt: &now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Scorable())
		})
	}
}

func TestQuestion_Selectable(t *testing.T) {
	now := time.Now()

	assert.True(t, Question{Text: "q", Status: QuestionStatusPublic}.Selectable())
	assert.True(t, Question{Text: "q", Status: QuestionStatusApproved}.Selectable())
	assert.True(t, Question{Text: "q"}.Selectable())
	assert.False(t, Question{Text: "", Status: QuestionStatusPublic}.Selectable())
	assert.False(t, Question{Text: "q", Status: QuestionStatusPublic, PrunedAt: &now}.Selectable())
	assert.False(t, Question{Text: "q", Status: QuestionStatusPruning}.Selectable())
}

func TestConsumerRef_Key(t *testing.T) {
	assert.Equal(t, "u1", ConsumerRef{UserID: "u1", Email: "a@b.c"}.Key())
	assert.Equal(t, "a@b.c", ConsumerRef{Email: "a@b.c"}.Key())
	assert.True(t, ConsumerRef{Email: "a@b.c"}.Anonymous())
	assert.False(t, ConsumerRef{UserID: "u1"}.Anonymous())
}

func TestJobProgress_Terminal(t *testing.T) {
	assert.False(t, JobProgress{Status: JobStatusRunning}.Terminal())
	assert.True(t, JobProgress{Status: JobStatusCompleted}.Terminal())
	assert.True(t, JobProgress{Status: JobStatusFailed}.Terminal())
}
