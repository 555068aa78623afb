package tools

import (
	"context"
	"encoding/json"
	"net/http"
)

const ModuleKeywordsData = "KEYWORDS_DATA"

type KeywordsDataModule struct{}

func (KeywordsDataModule) Name() string { return ModuleKeywordsData }

func (KeywordsDataModule) Tools() []Tool {
	return []Tool{googleAdsSearchVolume{}}
}

type googleAdsSearchVolume struct{}

type searchVolumeArgs struct {
	Keywords     []string `json:"keywords"`
	LocationName string   `json:"location_name"`
	LanguageCode string   `json:"language_code"`
}

func (googleAdsSearchVolume) Name() string { return "keywords_data_google_ads_search_volume" }

func (googleAdsSearchVolume) Description() string {
	return "Get search volume data for keywords from Google Ads"
}

var searchVolumeSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "keywords": {"type": "array", "items": {"type": "string"}, "minItems": 1, "maxItems": 1000},
    "location_name": {"type": "string", "default": "United States"},
    "language_code": {"type": "string", "default": "en"}
  },
  "required": ["keywords"]
}`)

func (googleAdsSearchVolume) InputSchema() json.RawMessage { return searchVolumeSchema.JSON() }

func (googleAdsSearchVolume) Call(ctx context.Context, c Caller, raw json.RawMessage) (any, error) {
	args := searchVolumeArgs{LocationName: "United States", LanguageCode: "en"}
	if err := searchVolumeSchema.decode(raw, &args); err != nil {
		return nil, err
	}

	resp, err := c.Request(ctx, http.MethodPost,
		"/v3/keywords_data/google_ads/search_volume/live",
		[]map[string]any{{
			"keywords":      args.Keywords,
			"location_name": args.LocationName,
			"language_code": args.LanguageCode,
		}},
		false,
	)
	if err != nil {
		return nil, err
	}
	return FormatResponse(resp, c.FullResponse())
}
