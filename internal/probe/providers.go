package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrIncomplete means a provider answered but left out part of the record.
var ErrIncomplete = errors.New("incomplete network record")

// Parser normalizes one provider's native response.
type Parser func(body []byte) (NetworkContext, error)

// Endpoint is one geolocation provider.
type Endpoint struct {
	Name string
	URL  string
}

// DefaultEndpoints are ordered by observed reliability.
var DefaultEndpoints = []Endpoint{
	{Name: "ipapi.co", URL: "https://ipapi.co/json/"},
	{Name: "ip-api.com", URL: "http://ip-api.com/json/"},
	{Name: "ipinfo.io", URL: "https://ipinfo.io/json"},
	{Name: "ipwho.is", URL: "https://ipwho.is/"},
}

var parsers = map[string]Parser{
	"ipapi.co":   parseIPAPICo,
	"ip-api.com": parseIPAPICom,
	"ipinfo.io":  parseIPInfo,
	"ipwho.is":   parseIPWhoIs,
}

// ParserFor returns the normalizer registered for a provider name.
func ParserFor(name string) (Parser, bool) {
	p, ok := parsers[strings.ToLower(name)]
	return p, ok
}

func parseIPAPICo(body []byte) (NetworkContext, error) {
	var r struct {
		IP          string `json:"ip"`
		Country     string `json:"country_name"`
		CountryCode string `json:"country_code"`
		Region      string `json:"region"`
		Org         string `json:"org"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return NetworkContext{}, err
	}
	if r.Error {
		return NetworkContext{}, fmt.Errorf("provider error: %s", r.Reason)
	}
	return NetworkContext{IP: r.IP, Country: r.Country, CountryCode: r.CountryCode, Region: r.Region, ISP: r.Org}, nil
}

func parseIPAPICom(body []byte) (NetworkContext, error) {
	var r struct {
		Status      string `json:"status"`
		Message     string `json:"message"`
		Query       string `json:"query"`
		Country     string `json:"country"`
		CountryCode string `json:"countryCode"`
		RegionName  string `json:"regionName"`
		ISP         string `json:"isp"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return NetworkContext{}, err
	}
	if r.Status != "success" {
		return NetworkContext{}, fmt.Errorf("provider status %q: %s", r.Status, r.Message)
	}
	return NetworkContext{IP: r.Query, Country: r.Country, CountryCode: r.CountryCode, Region: r.RegionName, ISP: r.ISP}, nil
}

func parseIPInfo(body []byte) (NetworkContext, error) {
	var r struct {
		IP      string `json:"ip"`
		Country string `json:"country"`
		Region  string `json:"region"`
		Org     string `json:"org"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return NetworkContext{}, err
	}
	// ipinfo only reports the ISO code
	return NetworkContext{IP: r.IP, CountryCode: r.Country, Region: r.Region, ISP: r.Org}, nil
}

func parseIPWhoIs(body []byte) (NetworkContext, error) {
	var r struct {
		Success     bool   `json:"success"`
		Message     string `json:"message"`
		IP          string `json:"ip"`
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
		Region      string `json:"region"`
		Connection  struct {
			ISP string `json:"isp"`
			Org string `json:"org"`
		} `json:"connection"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return NetworkContext{}, err
	}
	if !r.Success {
		return NetworkContext{}, fmt.Errorf("provider failure: %s", r.Message)
	}
	isp := r.Connection.ISP
	if isp == "" {
		isp = r.Connection.Org
	}
	return NetworkContext{IP: r.IP, Country: r.Country, CountryCode: r.CountryCode, Region: r.Region, ISP: isp}, nil
}
