package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/validation"
)

type line struct {
	Name string `json:"name" validate:"required"`
}

type order struct {
	Customer string   `json:"customer" validate:"required"`
	Score    *float64 `json:"score" validate:"required,min=0,max=100"`
	Lines    []line   `json:"lines" validate:"required,dive"`
	Internal string   `json:"-"`
}

func TestStruct_ReportsJSONPath(t *testing.T) {
	score := 50.0
	err := validation.Struct(order{Customer: "c", Score: &score, Lines: []line{{Name: "a"}, {}}})
	require.Error(t, err)

	fe, ok := validation.First(err)
	require.True(t, ok)
	assert.Equal(t, "lines[1].name", validation.Path(fe))
	assert.Equal(t, "required", fe.Tag())
}

func TestStruct_PointerZeroValueIsPresent(t *testing.T) {
	zero := 0.0
	assert.NoError(t, validation.Struct(order{Customer: "c", Score: &zero, Lines: []line{}}))

	err := validation.Struct(order{Customer: "c", Lines: []line{}})
	fe, ok := validation.First(err)
	require.True(t, ok)
	assert.Equal(t, "score", validation.Path(fe))
}

func TestStruct_Range(t *testing.T) {
	high := 100.5
	err := validation.Struct(order{Customer: "c", Score: &high, Lines: []line{}})
	fe, ok := validation.First(err)
	require.True(t, ok)
	assert.Equal(t, "max", fe.Tag())
}

func TestFirst_OtherErrors(t *testing.T) {
	_, ok := validation.First(assert.AnError)
	assert.False(t, ok)
}
