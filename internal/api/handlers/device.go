package handlers

import (
	"github.com/chromedp/chromedp/device"
	"github.com/gin-gonic/gin"

	"flowcraft/backend/pkg/chrome"
	"flowcraft/backend/pkg/response"
)

type deviceView struct {
	Name      string  `json:"name"`
	Width     int64   `json:"width"`
	Height    int64   `json:"height"`
	Scale     float64 `json:"scale"`
	UserAgent string  `json:"user_agent"`
	Mobile    bool    `json:"mobile"`
	Touch     bool    `json:"touch"`
}

func viewOf(d device.Info) deviceView {
	return deviceView{
		Name:      d.Name,
		Width:     d.Width,
		Height:    d.Height,
		Scale:     d.Scale,
		UserAgent: d.UserAgent,
		Mobile:    d.Mobile,
		Touch:     d.Touch,
	}
}

// GetDevices lists the emulation presets, sorted by name.
func (h *Handlers) GetDevices(c *gin.Context) {
	names := chrome.DeviceNames()
	out := make([]deviceView, 0, len(names))
	for _, name := range names {
		out = append(out, viewOf(chrome.Devices[name]))
	}
	response.Success(c, out)
}

func (h *Handlers) GetDevice(c *gin.Context) {
	d, err := chrome.LookupDevice(c.Param("name"))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, viewOf(d))
}
