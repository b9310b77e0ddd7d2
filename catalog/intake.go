package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FeedRecord is one raw vehicle record from the dealer inventory feed.
type FeedRecord struct {
	ID            string  `json:"id"`
	Make          string  `json:"make"`
	Model         string  `json:"model"`
	Year          string  `json:"year"`
	Color         string  `json:"color,omitempty"`
	SeatColor     string  `json:"seat_color,omitempty"`
	RetailPrice   float64 `json:"retail_price,omitempty"`
	SalePrice     float64 `json:"sale_price,omitempty"`
	VIN           string  `json:"vin,omitempty"`
	Serial        string  `json:"serial,omitempty"`
	IsUsed        bool    `json:"is_used,omitempty"`
	IsElectric    bool    `json:"is_electric,omitempty"`
	IsStreetLegal bool    `json:"is_street_legal,omitempty"`
	IsInStock     bool    `json:"is_in_stock,omitempty"`
	BatteryType   string  `json:"battery_type,omitempty"`
	Passengers    string  `json:"passengers,omitempty"`
	TireType      string  `json:"tire_type,omitempty"`
	TireRimSize   string  `json:"tire_rim_size,omitempty"`
	Location      string  `json:"location,omitempty"`
	SoundSystem   bool    `json:"sound_system,omitempty"`
	Lifted        bool    `json:"lifted,omitempty"`
	ExtendedTop   bool    `json:"extended_top,omitempty"`
	FenderFlares  bool    `json:"fender_flares,omitempty"`
	BrushGuard    bool    `json:"brush_guard,omitempty"`
	LightBar      bool    `json:"light_bar,omitempty"`
	UnderGlow     bool    `json:"under_glow,omitempty"`
}

// ImportResult reports what Import did with a feed record.
type ImportResult struct {
	EntityID string `json:"entity_id"`
	Created  bool   `json:"created"`
}

// Import maps a feed record onto a catalog entity, creating it on first
// sight and updating pricing and assignments on later syncs. Entities are
// deduplicated by feed ID.
func Import(store Store, rec FeedRecord) (*ImportResult, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("feed record has no id")
	}

	existing, err := store.FindEntityByField(FieldFeedID, rec.ID)
	if err != nil {
		return nil, err
	}

	name := strings.Join(nonEmpty(rec.Year, rec.Make, rec.Model, rec.Color), " ")
	if name == "" {
		name = "Vehicle " + rec.ID
	}

	var entityID string
	created := existing == ""
	if created {
		e := &Entity{
			Name:         name,
			SKU:          "FEED-" + rec.ID,
			RegularPrice: rec.RetailPrice,
		}
		if rec.SalePrice > 0 && rec.SalePrice < rec.RetailPrice {
			e.SalePrice = rec.SalePrice
		}
		entityID, err = store.CreateEntity(e)
		if err != nil {
			return nil, err
		}
	} else {
		entityID = existing
		e, err := store.GetEntity(entityID)
		if err != nil {
			return nil, err
		}
		if rec.RetailPrice > 0 {
			e.RegularPrice = rec.RetailPrice
			if rec.SalePrice > 0 && rec.SalePrice < rec.RetailPrice {
				e.SalePrice = rec.SalePrice
			}
			if err := store.UpdateEntity(e); err != nil {
				return nil, err
			}
		}
	}

	raw, _ := json.Marshal(rec)
	now := time.Now().UTC().Format(time.RFC3339)
	fields := map[string]string{
		FieldFeedID:       rec.ID,
		FieldFeedRaw:      string(raw),
		FieldFeedSyncedAt: now,
		FieldVIN:          rec.VIN,
		FieldSerial:       rec.Serial,
		FieldYear:         rec.Year,
		FieldCondition:    condition(rec.IsUsed),
		FieldStreetLegal:  yesNo(rec.IsStreetLegal),
		FieldElectric:     yesNo(rec.IsElectric),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := store.SetField(entityID, k, v); err != nil {
			return nil, err
		}
	}

	if err := assignFeedTerms(store, entityID, rec); err != nil {
		return nil, err
	}
	return &ImportResult{EntityID: entityID, Created: created}, nil
}

// assignFeedTerms writes the dimension assignments the feed states
// directly. Feed facts replace prior values in their dimension; inferred
// data from classification stays additive and untouched.
func assignFeedTerms(store Store, entityID string, rec FeedRecord) error {
	direct := map[string][]string{
		"manufacturers":  nonEmpty(rec.Make),
		"models":         nonEmpty(rec.Model),
		"model-year":     nonEmpty(rec.Year),
		"location":       nonEmpty(rec.Location),
		"battery-system": nonEmpty(rec.BatteryType),
		"color-exterior": nonEmpty(rec.Color),
		"color-seat":     nonEmpty(rec.SeatColor),
		"tire-type":      nonEmpty(rec.TireType),
	}
	if rec.Passengers != "" {
		direct["seating-config"] = []string{rec.Passengers + " Passenger"}
	}
	if rec.TireRimSize != "" {
		direct["tire-rim-size"] = []string{rec.TireRimSize + " Inch"}
	}
	if rec.IsElectric {
		direct["powertrain-type"] = []string{"Electric"}
	}
	if rec.IsInStock {
		direct["inventory-status"] = []string{"In Stock"}
	}
	if rec.IsStreetLegal {
		direct["compliance-class"] = []string{"Full Street Legal"}
	}
	if rec.SoundSystem {
		direct["sound-systems"] = []string{"Has Sound System"}
	}

	var features []string
	if rec.Lifted {
		features = append(features, "Lift Kit")
	}
	if rec.ExtendedTop {
		features = append(features, "Extended Top")
	}
	if rec.FenderFlares {
		features = append(features, "Fender Flares")
	}
	if rec.BrushGuard {
		features = append(features, "Brush Guard")
	}
	if rec.LightBar {
		features = append(features, "Light Bar")
	}
	if rec.UnderGlow {
		features = append(features, "Under Glow LEDs")
	}
	if len(features) > 0 {
		direct["added-features"] = features
	}

	for dimension, names := range direct {
		if len(names) == 0 {
			continue
		}
		ids := make([]string, 0, len(names))
		for _, n := range names {
			t, err := store.ResolveOrCreateTerm(dimension, n)
			if err != nil {
				return err
			}
			ids = append(ids, t.ID)
		}
		if err := store.AssignTerms(entityID, dimension, ids, false); err != nil {
			return err
		}
	}
	return nil
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func condition(used bool) string {
	if used {
		return "used"
	}
	return "new"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
