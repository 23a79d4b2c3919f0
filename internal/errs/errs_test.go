package errs

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	err := Validationf("keep_id %q not in detection members", "q1")
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "validation:")

	wrapped := eris.Wrap(err, "resolve merge")
	assert.True(t, IsValidation(wrapped))
}

func TestNotFoundError(t *testing.T) {
	err := NotFound("question", "q42")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "question not found: q42", err.Error())

	wrapped := eris.Wrap(err, "store: get question")
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
}

func TestEmptyCorpusError(t *testing.T) {
	err := &EmptyCorpusError{}
	assert.True(t, IsEmptyCorpus(err))
	assert.False(t, IsEmptyCorpus(NotFound("question", "x")))
}
