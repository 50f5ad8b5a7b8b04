package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"flowcraft/backend/internal/locator"
	"flowcraft/backend/internal/models"
)

// scriptResult is what every DOM mutation script returns.
type scriptResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Element is the inspection of a resolved element.
type Element struct {
	Found   bool    `json:"found"`
	Visible bool    `json:"visible"`
	OnTop   bool    `json:"onTop"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Text    string  `json:"text"`
	TagName string  `json:"tagName"`
}

func (e Element) Clickable() bool { return e.Found && e.Visible && e.OnTop }

// Issues lists why a found element cannot be clicked.
func (e Element) Issues() string {
	var out []string
	if !e.Visible {
		out = append(out, "not visible")
	}
	if !e.OnTop {
		out = append(out, "covered by other elements")
	}
	return strings.Join(out, ", ")
}

// target is the locator shape read by __flowcraftLocator.find.
type target struct {
	XPath       string `json:"xpath"`
	CSSSelector string `json:"cssSelector"`
	ElementText string `json:"elementText"`
}

func targetOf(loc models.Locator) target {
	return target{XPath: loc.XPath, CSSSelector: loc.CSSSelector, ElementText: loc.ElementText}
}

// call builds an expression that installs the locator helpers if missing and
// applies body to the JSON encoded args. Inside body the args are bound to
// "a" and the helpers to "L".
func call(body string, args interface{}) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	return fmt.Sprintf("%s\n;(function (a) { var L = window.__flowcraftLocator; %s })(%s)", locator.Script, body, encoded)
}

const inspectBody = `
var el = L.find(a.loc, a.firstMatch);
if (!el) { return { found: false }; }
return L.inspect(el);`

const clickBody = `
var el = L.find(a.loc, false);
if (!el) { return { success: false, message: "Element not found" }; }
el.click();
return { success: true, message: "Element clicked successfully" };`

const focusClearBody = `
var el = L.find(a.loc, true);
if (!el) { return { success: false, message: "Element not found" }; }
el.focus();
el.value = "";
el.dispatchEvent(new Event("input", { bubbles: true }));
return { success: true, message: "Element cleared" };`

const changeBody = `
var el = L.find(a.loc, true);
if (!el) { return { success: false, message: "Element not found" }; }
el.dispatchEvent(new Event("change", { bubbles: true }));
return { success: true, message: "Change dispatched" };`

const inputBody = `
var el = L.find(a.loc, true);
if (!el) { return { success: false, message: "Element not found" }; }
if (el.tagName !== "INPUT" && el.tagName !== "TEXTAREA") {
  return { success: false, message: "Element is not an input field" };
}
el.focus();
el.value = "";
el.value = a.value;
el.dispatchEvent(new Event("input", { bubbles: true }));
el.dispatchEvent(new Event("change", { bubbles: true }));
return { success: true, message: "Text input successfully" };`

const focusBody = `
var el = a.loc ? L.find(a.loc, true) : null;
if (!el) { el = document.activeElement || document.body; }
if (el && el.focus) { el.focus(); }
return { success: true, message: "Focused " + (el ? el.tagName : "document") };`

const keyBody = `
var el = a.loc ? L.find(a.loc, true) : null;
if (!el) { el = document.activeElement || document.body; }
if (el && el.focus) { el.focus(); }
var init = { key: a.key.key, code: a.key.code, keyCode: a.key.keyCode, which: a.key.keyCode,
  ctrlKey: !!(a.mods & 2), metaKey: !!(a.mods & 4), altKey: !!(a.mods & 1), shiftKey: !!(a.mods & 8),
  bubbles: true, cancelable: true };
(el || document).dispatchEvent(new KeyboardEvent("keydown", init));
(el || document).dispatchEvent(new KeyboardEvent("keyup", init));
return { success: true, message: "Key \"" + a.key.key + "\" pressed successfully" };`

const windowScrollBody = `
window.scrollTo(a.x, a.y);
return { success: true, message: "Page scrolled successfully" };`

const elementScrollBody = `
var el = L.find(a.loc, true);
if (!el) { return { success: false, message: "Element not found" }; }
el.scrollLeft = a.x;
el.scrollTop = a.y;
return { success: true, message: "Element scrolled successfully" };`

const readyStateExpr = `document.readyState`
