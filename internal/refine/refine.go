// Package refine talks to the text-transform service that suggests revised
// requirement text from reviewer feedback.
package refine

import (
	"context"
	"errors"
)

var ErrDisabled = errors.New("refine: no text-transform service configured")

type Request struct {
	Title    string
	Text     string
	Feedback string
}

type Result struct {
	Text  string `json:"refined_text"`
	Notes string `json:"notes,omitempty"`
}

// Refiner is a possibly slow, possibly failing remote call. It never
// touches stored requirements.
type Refiner interface {
	Refine(ctx context.Context, req Request) (Result, error)
}

// Disabled rejects every request with ErrDisabled.
type Disabled struct{}

func (Disabled) Refine(context.Context, Request) (Result, error) {
	return Result{}, ErrDisabled
}

// Func adapts a plain function to Refiner.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Refine(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
