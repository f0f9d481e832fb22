package recovery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrostLynn/frostlynnPDF/observability"
)

func TestStrictStrategyFails(t *testing.T) {
	a := NewStrictStrategy().OnError(context.Background(), errors.New("x"), Location{})
	assert.Equal(t, ActionFail, a)
	assert.False(t, a.Continue())
}

func TestLenientStrategyRecordsAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	s := NewLoggingStrategy(logger)

	a := s.OnError(context.Background(), errors.New("missing >>"), Location{ByteOffset: 42, ObjectNum: 3, Component: "parser"})
	assert.Equal(t, ActionWarn, a)
	assert.True(t, a.Continue())

	errs := s.Recorded()
	require.Len(t, errs, 1)
	assert.Equal(t, "[parser] offset 42: missing >>", errs[0].Error())
	assert.Contains(t, buf.String(), "component=parser")
	assert.Contains(t, buf.String(), "object=3")
}

func TestDecideWithoutStrategyFails(t *testing.T) {
	assert.Equal(t, ActionFail, Decide(context.Background(), nil, errors.New("x"), Location{}))
	assert.Equal(t, ActionWarn, Decide(context.Background(), NewLenientStrategy(), errors.New("x"), Location{}))
	assert.Equal(t, "warn", ActionWarn.String())
}
