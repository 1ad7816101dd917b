package schemas

import "strconv"

// -- Browser Identity Schemas --

// Viewport is the emulated window size in CSS pixels.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Identity is a synthetic browser fingerprint presented to the target site.
// Every field is drawn from a fixed catalog; an Identity is used for at most one attempt.
type Identity struct {
	UserAgent         string   `json:"userAgent"`
	Platform          string   `json:"platform"` // navigator.platform, must agree with UserAgent.
	Viewport          Viewport `json:"viewport"`
	Locale            string   `json:"locale"`
	Languages         []string `json:"languages"`
	Timezone          string   `json:"timezoneId"`
	Touch             bool     `json:"touch"`
	DeviceScaleFactor float64  `json:"deviceScaleFactor"`
	CatalogVersion    string   `json:"catalogVersion"`
}

// AcceptLanguage renders Languages as an Accept-Language header value with descending q weights.
func (i Identity) AcceptLanguage() string {
	if len(i.Languages) == 0 {
		return i.Locale
	}
	out := i.Languages[0]
	for n := 1; n < len(i.Languages); n++ {
		q := 1.0 - float64(n)*0.1
		if q < 0.5 {
			q = 0.5
		}
		out += "," + i.Languages[n] + ";q=" + strconv.FormatFloat(q, 'f', 1, 64)
	}
	return out
}
