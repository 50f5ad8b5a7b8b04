package models

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

type StepType string

const (
	StepClick      StepType = "click"
	StepInput      StepType = "input"
	StepKeyPress   StepType = "key_press"
	StepScroll     StepType = "scroll"
	StepNavigation StepType = "navigation"
)

// KnownStepTypes lists every step type the consolidator can produce.
var KnownStepTypes = []StepType{StepClick, StepInput, StepKeyPress, StepScroll, StepNavigation}

// Step is one replayable unit of user intent. The concrete types are
// *ClickStep, *InputStep, *KeyPressStep, *ScrollStep, *NavigationStep and
// *UnknownStep.
type Step interface {
	Base() *StepBase
	isStep()
}

type StepBase struct {
	ID          string   `json:"id,omitempty"`
	Type        StepType `json:"type"`
	Timestamp   int64    `json:"timestamp"`
	TabID       string   `json:"tabId,omitempty"`
	URL         string   `json:"url,omitempty"`
	FrameURL    string   `json:"frameUrl,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (b *StepBase) Base() *StepBase { return b }

type ClickStep struct {
	StepBase
	Locator
}

type InputStep struct {
	StepBase
	Locator
	Value string `json:"value"`
}

type KeyPressStep struct {
	StepBase
	Locator
	Key string `json:"key"`
}

type ScrollStep struct {
	StepBase
	Locator
	TargetID int64   `json:"targetId"`
	ScrollX  float64 `json:"scrollX"`
	ScrollY  float64 `json:"scrollY"`
}

type NavigationStep struct {
	StepBase
}

// UnknownStep keeps a step whose type this build does not understand so it
// survives a load/save round trip.
type UnknownStep struct {
	StepBase
	Raw json.RawMessage `json:"-"`
}

func (*ClickStep) isStep()      {}
func (*InputStep) isStep()      {}
func (*KeyPressStep) isStep()   {}
func (*ScrollStep) isStep()     {}
func (*NavigationStep) isStep() {}
func (*UnknownStep) isStep()    {}

func (s *UnknownStep) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	return json.Marshal(s.StepBase)
}

// Steps marshals to a flat JSON array and unmarshals by peeking each
// element's "type" field.
type Steps []Step

func (s Steps) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	out := make([]json.RawMessage, 0, len(s))
	for i, step := range s {
		b, err := json.Marshal(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

func (s *Steps) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	steps := make(Steps, 0, len(raws))
	for i, raw := range raws {
		step, err := DecodeStep(raw)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*s = steps
	return nil
}

// DecodeStep decodes a single JSON step into its concrete type.
func DecodeStep(raw []byte) (Step, error) {
	var step Step
	switch StepType(gjson.GetBytes(raw, "type").String()) {
	case StepClick:
		step = &ClickStep{}
	case StepInput:
		step = &InputStep{}
	case StepKeyPress:
		step = &KeyPressStep{}
	case StepScroll:
		step = &ScrollStep{}
	case StepNavigation:
		step = &NavigationStep{}
	default:
		u := &UnknownStep{Raw: append(json.RawMessage(nil), raw...)}
		if err := json.Unmarshal(raw, &u.StepBase); err != nil {
			return nil, err
		}
		return u, nil
	}
	if err := json.Unmarshal(raw, step); err != nil {
		return nil, err
	}
	return step, nil
}

// LocatorOf returns the locator carried by a step, if any.
func LocatorOf(step Step) (Locator, bool) {
	switch s := step.(type) {
	case *ClickStep:
		return s.Locator, true
	case *InputStep:
		return s.Locator, true
	case *KeyPressStep:
		return s.Locator, !s.Locator.IsZero()
	case *ScrollStep:
		return s.Locator, !s.Locator.IsZero()
	}
	return Locator{}, false
}
