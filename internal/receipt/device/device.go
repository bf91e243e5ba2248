// Package device classifies the browser that submitted a receipt.
package device

import (
	"strings"

	"github.com/mssola/useragent"

	"klarogeo/internal/receipt/models"
)

// Parse extracts browser, OS and device class from a User-Agent header.
func Parse(userAgentString string) models.ClientInfo {
	if strings.TrimSpace(userAgentString) == "" {
		return models.ClientInfo{}
	}

	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	os := ua.OS()
	if ua.Mobile() && ua.Platform() != "" {
		os = ua.Platform()
	}

	return models.ClientInfo{
		Browser:        strings.TrimSpace(browser),
		BrowserVersion: majorVersion(version),
		OS:             strings.TrimSpace(os),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}

// DisplayName formats info as "Browser on OS", for logs.
func DisplayName(info models.ClientInfo) string {
	browser := info.Browser
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := info.OS
	if os == "" {
		os = "Unknown OS"
	}
	return browser + " on " + os
}

func majorVersion(version string) string {
	major, _, _ := strings.Cut(version, ".")
	return major
}
