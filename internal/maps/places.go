package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	commonerrors "agent-dispatch/internal/common/errors"

	"github.com/google/uuid"
)

// Suggestion is one autocomplete prediction.
type Suggestion struct {
	PlaceID       string `json:"placeId"`
	Description   string `json:"description"`
	MainText      string `json:"mainText"`
	SecondaryText string `json:"secondaryText"`
}

// PlaceResult is the resolved detail of a selected place.
type PlaceResult struct {
	FormattedAddress string  `json:"formattedAddress"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	PostalCode       string  `json:"postalCode"`
}

// NewSessionToken returns a token grouping autocomplete requests with the
// final details call for billing purposes.
func NewSessionToken() string {
	return uuid.NewString()
}

type autocompleteResponse struct {
	Suggestions []struct {
		PlacePrediction struct {
			PlaceID string `json:"placeId"`
			Text    struct {
				Text string `json:"text"`
			} `json:"text"`
			StructuredFormat struct {
				MainText struct {
					Text string `json:"text"`
				} `json:"mainText"`
				SecondaryText struct {
					Text string `json:"text"`
				} `json:"secondaryText"`
			} `json:"structuredFormat"`
		} `json:"placePrediction"`
	} `json:"suggestions"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Autocomplete returns address suggestions biased to the configured region.
func (c *Client) Autocomplete(ctx context.Context, input, sessionToken string) ([]Suggestion, error) {
	if c.cfg.APIKey == "" {
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("no API key configured"))
	}

	payload := map[string]interface{}{
		"input":        input,
		"sessionToken": sessionToken,
		"languageCode": c.cfg.Language,
	}
	if c.cfg.Region != "" {
		payload["includedRegionCodes"] = []string{strings.ToUpper(c.cfg.Region)}
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, c.cfg.PlacesURL+"/places:autocomplete", strings.NewReader(string(body)))
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}

	var parsed autocompleteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	if parsed.Error != nil {
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("places autocomplete: %s", parsed.Error.Message))
	}

	suggestions := make([]Suggestion, 0, len(parsed.Suggestions))
	for _, s := range parsed.Suggestions {
		p := s.PlacePrediction
		if p.PlaceID == "" {
			continue
		}
		description := p.Text.Text
		if description == "" {
			description = p.StructuredFormat.MainText.Text
		}
		suggestions = append(suggestions, Suggestion{
			PlaceID:       p.PlaceID,
			Description:   description,
			MainText:      p.StructuredFormat.MainText.Text,
			SecondaryText: p.StructuredFormat.SecondaryText.Text,
		})
	}

	return suggestions, nil
}

type placeDetailsResponse struct {
	FormattedAddress string `json:"formattedAddress"`
	Location         struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	AddressComponents []struct {
		LongText  string   `json:"longText"`
		ShortText string   `json:"shortText"`
		Types     []string `json:"types"`
	} `json:"addressComponents"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// PlaceDetails resolves a selected suggestion to coordinates and postal code,
// closing the billing session opened by Autocomplete.
func (c *Client) PlaceDetails(ctx context.Context, placeID, sessionToken string) (*PlaceResult, error) {
	if c.cfg.APIKey == "" {
		return nil, commonerrors.NewProviderUnavailableError(fmt.Errorf("no API key configured"))
	}

	req, err := http.NewRequest(http.MethodGet, c.cfg.PlacesURL+"/places/"+placeID, nil)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	req.Header.Set("X-Goog-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Goog-FieldMask", "location,formattedAddress,addressComponents")
	if sessionToken != "" {
		req.Header.Set("X-Goog-SessionToken", sessionToken)
	}

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}

	var parsed placeDetailsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, commonerrors.NewProviderUnavailableError(err)
	}
	if parsed.Error != nil {
		return nil, commonerrors.NewResolutionFailedError(placeID, fmt.Errorf("%s", parsed.Error.Message))
	}

	out := &PlaceResult{
		FormattedAddress: parsed.FormattedAddress,
		Lat:              parsed.Location.Latitude,
		Lng:              parsed.Location.Longitude,
	}
	for _, component := range parsed.AddressComponents {
		for _, t := range component.Types {
			if t == "postal_code" {
				out.PostalCode = component.LongText
				if out.PostalCode == "" {
					out.PostalCode = component.ShortText
				}
				break
			}
		}
	}

	return out, nil
}
