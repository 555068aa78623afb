package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const ModuleSerp = "SERP"

type SerpModule struct{}

func (SerpModule) Name() string { return ModuleSerp }

func (SerpModule) Tools() []Tool {
	return []Tool{
		serpOrganicLiveAdvanced{},
		serpLocations{},
	}
}

type serpOrganicLiveAdvanced struct{}

type serpOrganicArgs struct {
	SearchEngine string `json:"search_engine"`
	Keyword      string `json:"keyword"`
	LocationName string `json:"location_name"`
	LanguageCode string `json:"language_code"`
	Depth        int    `json:"depth"`
	Device       string `json:"device"`
}

func (serpOrganicLiveAdvanced) Name() string { return "serp_organic_live_advanced" }

func (serpOrganicLiveAdvanced) Description() string {
	return "Get organic search results for a keyword in the specified search engine"
}

var serpOrganicSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "search_engine": {"type": "string", "enum": ["google", "bing", "yahoo"], "default": "google"},
    "keyword": {"type": "string", "minLength": 1, "description": "search query"},
    "location_name": {"type": "string", "minLength": 1, "description": "full name of the location, e.g. United States"},
    "language_code": {"type": "string", "minLength": 1, "description": "search engine language code, e.g. en"},
    "depth": {"type": "number", "minimum": 10, "maximum": 700, "default": 10},
    "device": {"type": "string", "enum": ["desktop", "mobile"], "default": "desktop"}
  },
  "required": ["keyword", "location_name", "language_code"]
}`)

func (serpOrganicLiveAdvanced) InputSchema() json.RawMessage { return serpOrganicSchema.JSON() }

func (t serpOrganicLiveAdvanced) Call(ctx context.Context, c Caller, raw json.RawMessage) (any, error) {
	args := serpOrganicArgs{SearchEngine: "google", Depth: 10, Device: "desktop"}
	if err := serpOrganicSchema.decode(raw, &args); err != nil {
		return nil, err
	}

	resp, err := c.Request(ctx, http.MethodPost,
		fmt.Sprintf("/v3/serp/%s/organic/live/advanced", args.SearchEngine),
		[]map[string]any{{
			"keyword":       args.Keyword,
			"location_name": args.LocationName,
			"language_code": args.LanguageCode,
			"depth":         args.Depth,
			"device":        args.Device,
		}},
		false,
	)
	if err != nil {
		return nil, err
	}
	return FormatResponse(resp, c.FullResponse())
}

type serpLocations struct{}

type serpLocationsArgs struct {
	SearchEngine   string `json:"search_engine"`
	CountryISOCode string `json:"country_iso_code"`
	LocationType   string `json:"location_type"`
	LocationName   string `json:"location_name"`
}

func (serpLocations) Name() string { return "serp_locations" }

func (serpLocations) Description() string {
	return "Utility tool for serp_organic_live_advanced to get the list of available locations"
}

var serpLocationsSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "search_engine": {"type": "string", "enum": ["google", "bing", "yahoo"], "default": "google"},
    "country_iso_code": {"type": "string", "minLength": 1, "description": "ISO 3166-1 alpha-2 country code, e.g. US"},
    "location_type": {"type": "string", "description": "type of location, e.g. Country"},
    "location_name": {"type": "string", "description": "name of location or part of it"}
  },
  "required": ["country_iso_code"]
}`)

func (serpLocations) InputSchema() json.RawMessage { return serpLocationsSchema.JSON() }

// Locations are only served in the full format.
func (serpLocations) Call(ctx context.Context, c Caller, raw json.RawMessage) (any, error) {
	args := serpLocationsArgs{SearchEngine: "google"}
	if err := serpLocationsSchema.decode(raw, &args); err != nil {
		return nil, err
	}

	filter := map[string]any{"country_iso_code": strings.ToUpper(args.CountryISOCode)}
	if args.LocationType != "" {
		filter["location_type"] = args.LocationType
	}
	if args.LocationName != "" {
		filter["location_name"] = args.LocationName
	}

	resp, err := c.Request(ctx, http.MethodPost,
		fmt.Sprintf("/v3/serp/%s/locations", args.SearchEngine),
		[]map[string]any{filter},
		true,
	)
	if err != nil {
		return nil, err
	}
	return FormatResponse(resp, true)
}
