package model_test

import (
	"math"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/domain/model"
)

func TestEncodeValue(t *testing.T) {
	t.Run("nil input yields nil pair", func(t *testing.T) {
		encoded, mult := model.EncodeValue(nil, 1)
		gt.Value(t, encoded).Nil()
		gt.Value(t, mult).Nil()
	})

	t.Run("non-finite input yields nil pair", func(t *testing.T) {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			encoded, mult := model.EncodeValue(&v, 1)
			gt.Value(t, encoded).Nil()
			gt.Value(t, mult).Nil()
		}
	})

	t.Run("integral value keeps the default multiplier", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(82, 1)
		gt.Value(t, *encoded).Equal(int64(82))
		gt.Value(t, *mult).Equal(int64(1))

		// pence-denominated amounts pass through untouched
		encoded, mult = model.EncodeFloat(1234, 100)
		gt.Value(t, *encoded).Equal(int64(1234))
		gt.Value(t, *mult).Equal(int64(100))
	})

	t.Run("zero or negative default multiplier is clamped to 1", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(7, 0)
		gt.Value(t, *encoded).Equal(int64(7))
		gt.Value(t, *mult).Equal(int64(1))
	})

	t.Run("fractional value is scaled by 1000", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(7.25, 1)
		gt.Value(t, *encoded).Equal(int64(7250))
		gt.Value(t, *mult).Equal(int64(1000))
	})

	t.Run("excess precision is rounded", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(0.12345, 1)
		gt.Value(t, *encoded).Equal(int64(123))
		gt.Value(t, *mult).Equal(int64(1000))
	})

	t.Run("negative fractional value", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(-3.5, 1)
		gt.Value(t, *encoded).Equal(int64(-3500))
		gt.Value(t, *mult).Equal(int64(1000))
	})
}

func TestDecodeValue(t *testing.T) {
	t.Run("round-trips fractional values", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(7.25, 1)
		got := model.DecodeValue(encoded, mult)
		gt.Value(t, *got).Equal(7.25)
	})

	t.Run("round-trips integral values with unit multiplier", func(t *testing.T) {
		encoded, mult := model.EncodeFloat(82, 1)
		got := model.DecodeValue(encoded, mult)
		gt.Value(t, *got).Equal(float64(82))
	})

	t.Run("absent parts decode to nil", func(t *testing.T) {
		v := int64(5)
		gt.Value(t, model.DecodeValue(nil, &v)).Nil()
		gt.Value(t, model.DecodeValue(&v, nil)).Nil()

		zero := int64(0)
		gt.Value(t, model.DecodeValue(&v, &zero)).Nil()
	})
}
