package task

import (
	"context"
	"time"
)

// RegisterBuiltins adds the small set of kinds exercised directly by the
// testable properties of spec §8 (S1/S2/S3) and by local smoke tests: an
// "echo" kind that sleeps once, and a "loop" kind that sleeps in
// cooperative-cancellation-checked increments. Real analyzer-result-import
// kinds are registered by the external collaborator that parses analyzer
// output (spec §1, out of scope here); this keeps the registry non-empty
// for a server boot with no analyzer glue wired in yet.
func RegisterBuiltins(reg *Registry) error {
	if err := reg.Register(Variant{
		Kind:      "echo",
		NewParams: func() any { return &EchoParams{} },
		Run:       runEcho,
	}); err != nil {
		return err
	}
	return reg.Register(Variant{
		Kind:      "loop",
		NewParams: func() any { return &LoopParams{} },
		Run:       runLoop,
	})
}

// EchoParams is the "echo" kind's parameter shape: sleep for DelayMS then
// complete, per spec §8 scenario S1.
type EchoParams struct {
	DelayMS int `json:"delay_ms" validate:"gte=0"`
}

func runEcho(ctx context.Context, rc *RunContext, params any) error {
	p, _ := params.(*EchoParams)
	if p == nil {
		p = &EchoParams{}
	}
	select {
	case <-time.After(time.Duration(p.DelayMS) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ErrCancelled
	}
}

// LoopParams is the "loop" kind's parameter shape: sleep in StepMS
// increments, checking ShouldCancel each step, up to TotalMS total, per spec
// §8 scenarios S2/S3.
type LoopParams struct {
	StepMS  int `json:"step_ms" validate:"gte=1"`
	TotalMS int `json:"total_ms" validate:"gte=1"`
}

func runLoop(ctx context.Context, rc *RunContext, params any) error {
	p, _ := params.(*LoopParams)
	if p == nil {
		p = &LoopParams{StepMS: 10, TotalMS: 1000}
	}
	step := time.Duration(p.StepMS) * time.Millisecond
	elapsed := time.Duration(0)
	total := time.Duration(p.TotalMS) * time.Millisecond
	for elapsed < total {
		if rc.ShouldCancel() {
			return ErrCancelled
		}
		if err := rc.Heartbeat(); err != nil {
			return err
		}
		select {
		case <-time.After(step):
		case <-ctx.Done():
			return ErrCancelled
		}
		elapsed += step
	}
	return nil
}
