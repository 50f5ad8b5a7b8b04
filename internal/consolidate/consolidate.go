// Package consolidate turns an ordered raw event log into the minimal step
// sequence of a workflow.
package consolidate

import (
	"io"

	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/models"
)

// TabInfoFunc looks up first-known tab metadata.
type TabInfoFunc func(tabID string) (models.TabInfo, bool)

type Consolidator struct {
	Log     logrus.FieldLogger
	TabInfo TabInfoFunc
}

// Consolidate runs a Consolidator without logging or tab metadata.
func Consolidate(events []models.RawEvent) models.Steps {
	return (&Consolidator{}).Run(events)
}

// Run processes events in the given order. Runs of same-target input events
// and same-target scroll events collapse into one step holding the latest
// value; clicks, key presses and navigations are always appended.
func (c *Consolidator) Run(events []models.RawEvent) models.Steps {
	log := c.Log
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	steps := models.Steps{}
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case models.ClickPayload:
			if ev.PageURL == "" || ev.Locator == nil || ev.Locator.XPath == "" || ev.Locator.ElementTag == "" {
				log.WithField("tab", ev.TabID).Warn("Skipping incomplete click event")
				continue
			}
			steps = append(steps, &models.ClickStep{
				StepBase: base(models.StepClick, ev),
				Locator:  *ev.Locator,
			})

		case models.InputPayload:
			if ev.PageURL == "" || ev.Locator == nil || ev.Locator.XPath == "" || ev.Locator.ElementTag == "" {
				log.WithField("tab", ev.TabID).Warn("Skipping incomplete input event")
				continue
			}
			if last, ok := lastStep(steps).(*models.InputStep); ok && sameInputTarget(last, ev) {
				last.Value = p.Value
				last.Timestamp = ev.Timestamp
				continue
			}
			steps = append(steps, &models.InputStep{
				StepBase: base(models.StepInput, ev),
				Locator:  models.Locator{XPath: ev.Locator.XPath, CSSSelector: ev.Locator.CSSSelector, ElementTag: ev.Locator.ElementTag},
				Value:    p.Value,
			})

		case models.KeyPayload:
			if ev.PageURL == "" || p.Key == "" {
				log.WithField("tab", ev.TabID).Warn("Skipping incomplete key event")
				continue
			}
			step := &models.KeyPressStep{StepBase: base(models.StepKeyPress, ev), Key: p.Key}
			if ev.Locator != nil {
				step.Locator = models.Locator{XPath: ev.Locator.XPath, CSSSelector: ev.Locator.CSSSelector, ElementTag: ev.Locator.ElementTag}
			}
			steps = append(steps, step)

		case models.ScrollPayload:
			if last, ok := lastStep(steps).(*models.ScrollStep); ok && last.TabID == ev.TabID && last.TargetID == p.TargetID {
				last.ScrollX, last.ScrollY = p.X, p.Y
				last.Timestamp = ev.Timestamp
				continue
			}
			step := &models.ScrollStep{
				StepBase: base(models.StepScroll, ev),
				TargetID: p.TargetID,
				ScrollX:  p.X,
				ScrollY:  p.Y,
			}
			if step.URL == "" && c.TabInfo != nil {
				if info, ok := c.TabInfo(ev.TabID); ok {
					step.URL = info.URL
				}
			}
			if ev.Locator != nil {
				step.Locator = models.Locator{XPath: ev.Locator.XPath, CSSSelector: ev.Locator.CSSSelector, ElementTag: ev.Locator.ElementTag}
			}
			steps = append(steps, step)

		case models.NavigationPayload:
			if p.Href == "" {
				continue
			}
			steps = append(steps, &models.NavigationStep{StepBase: models.StepBase{
				Type:      models.StepNavigation,
				Timestamp: ev.Timestamp,
				TabID:     ev.TabID,
				URL:       p.Href,
			}})

		case models.TabPayload:
			// lifecycle records stay in the log only

		default:
			log.WithField("kind", ev.Kind()).Warn("Unknown raw event kind")
		}
	}
	return steps
}

func base(t models.StepType, ev models.RawEvent) models.StepBase {
	return models.StepBase{
		Type:      t,
		Timestamp: ev.Timestamp,
		TabID:     ev.TabID,
		URL:       ev.PageURL,
		FrameURL:  ev.FrameURL,
	}
}

func lastStep(steps models.Steps) models.Step {
	if len(steps) == 0 {
		return nil
	}
	return steps[len(steps)-1]
}

func sameInputTarget(last *models.InputStep, ev models.RawEvent) bool {
	return last.TabID == ev.TabID &&
		last.URL == ev.PageURL &&
		last.FrameURL == ev.FrameURL &&
		last.XPath == ev.Locator.XPath &&
		last.CSSSelector == ev.Locator.CSSSelector &&
		last.ElementTag == ev.Locator.ElementTag
}
