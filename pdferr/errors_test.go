package pdferr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"unsupported", Unsupported("encryption"), ErrUnsupportedFeature},
		{"range", OutOfRange("page", 5, 3), ErrIndexOutOfRange},
		{"dangling", &DanglingReferenceError{Num: 7}, ErrDanglingReference},
		{"corrupt", Corrupt("no catalog"), ErrCorruptDocument},
		{"wrapped", fmt.Errorf("merge: %w", Unsupported("filter JBIG2Decode")), ErrUnsupportedFeature},
		{"item", &ItemError{Index: 1, Total: 2, Err: ErrEmptyInput}, ErrEmptyInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.target)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "unsupported feature: encryption", Unsupported("encryption").Error())
	assert.Equal(t, "page 5 out of range (0-2)", OutOfRange("page", 5, 3).Error())
	assert.Equal(t, "source 0 out of range (none available)", OutOfRange("source", 0, 0).Error())
	assert.Equal(t, "dangling reference 4 0 R (from 2 0 R)", (&DanglingReferenceError{Num: 4, From: "2 0 R"}).Error())

	item := &ItemError{Index: 2, Total: 5, Name: "scan.pdf", Err: errors.New("boom")}
	assert.Equal(t, "failed to process scan.pdf (3 of 5): boom", item.Error())

	var feat *UnsupportedFeatureError
	assert.True(t, errors.As(fmt.Errorf("x: %w", Unsupported("encryption")), &feat))
	assert.Equal(t, "encryption", feat.Feature)
}
