package models

type EventKind string

const (
	KindClick      EventKind = "click"
	KindInput      EventKind = "input"
	KindKey        EventKind = "key"
	KindScroll     EventKind = "scroll"
	KindNavigation EventKind = "navigation"
	KindTab        EventKind = "tab"
)

type TabEventType string

const (
	TabCreated   TabEventType = "CUSTOM_TAB_CREATED"
	TabUpdated   TabEventType = "CUSTOM_TAB_UPDATED"
	TabActivated TabEventType = "CUSTOM_TAB_ACTIVATED"
	TabRemoved   TabEventType = "CUSTOM_TAB_REMOVED"
)

// RawEvent is one observed occurrence. Seq is assigned by the session buffer
// on append; everything else is fixed by the capturer.
type RawEvent struct {
	Seq       uint64
	Timestamp int64
	TabID     string
	PageURL   string
	FrameURL  string
	Locator   *Locator
	Payload   Payload
}

func (e RawEvent) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Payload is the kind-specific part of a RawEvent.
type Payload interface {
	Kind() EventKind
}

type ClickPayload struct{}

type InputPayload struct {
	Value string
}

type KeyPayload struct {
	Key string
}

type ScrollPayload struct {
	TargetID int64
	X        float64
	Y        float64
}

type NavigationPayload struct {
	Href string
}

type TabPayload struct {
	Event TabEventType
	URL   string
	Title string
}

func (ClickPayload) Kind() EventKind      { return KindClick }
func (InputPayload) Kind() EventKind      { return KindInput }
func (KeyPayload) Kind() EventKind        { return KindKey }
func (ScrollPayload) Kind() EventKind     { return KindScroll }
func (NavigationPayload) Kind() EventKind { return KindNavigation }
func (TabPayload) Kind() EventKind        { return KindTab }

// TabInfo is the first-known metadata of a tab.
type TabInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
