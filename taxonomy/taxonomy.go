// Package taxonomy defines the 50-dimension vehicle classification space.
//
// Every catalog entity is classified along these dimensions, from
// manufacturer down to shipping zone. The ordinal of a dimension fixes its
// position in the canonical fingerprint string, so the table below is
// append-only: changing an ordinal changes every fingerprint in the system.
package taxonomy

import "sort"

// Dimension is one axis of the classification space.
type Dimension struct {
	Slug         string `json:"slug"`
	Label        string `json:"label"`
	Plural       string `json:"plural"`
	Hierarchical bool   `json:"hierarchical"`
	Ordinal      int    `json:"ordinal"`
	Description  string `json:"description"`
}

// PrimarySlug is the dimension that must be classified first whenever it
// can be inferred.
const PrimarySlug = "models"

// ManufacturerSlug identifies the brand dimension used by similarity
// ranking and the inventory rollup.
const ManufacturerSlug = "manufacturers"

var dimensions = []Dimension{
	// Identity
	{"manufacturers", "Manufacturer", "Manufacturers", true, 1, "Vehicle manufacturer/brand (Denago, Epic, Club Car, etc.)"},
	{"model-family", "Model Family", "Model Families", true, 2, "Product line family (Nomad Series, Rover Series, etc.)"},
	{"models", "Model", "Models", true, 3, "Specific model name, the primary category"},
	{"model-year", "Model Year", "Model Years", true, 4, "Production year"},
	{"trim-level", "Trim Level", "Trim Levels", true, 5, "Trim package (Base, Sport, Premium, XL, etc.)"},

	// Body and configuration
	{"body-style", "Body Style", "Body Styles", true, 6, "Body configuration (Open, Enclosed, Cab, Flatbed)"},
	{"seating-config", "Seating Configuration", "Seating Configurations", true, 7, "Passenger capacity (2, 4, 6, 8 passenger)"},
	{"powertrain-type", "Powertrain Type", "Powertrain Types", true, 8, "Electric, Gas, Hybrid, Solar-Assist"},
	{"battery-system", "Battery System", "Battery Systems", true, 9, "Lithium, Lead-Acid, AGM, LiFePO4"},
	{"motor-type", "Motor Type", "Motor Types", true, 10, "AC, DC, Brushless, Hub Motor"},

	// Drivetrain and mechanical
	{"controller-type", "Controller", "Controllers", true, 11, "Motor controller brand/type"},
	{"drivetrain", "Drivetrain", "Drivetrains", true, 12, "FWD, RWD, AWD, 4WD"},
	{"suspension-type", "Suspension", "Suspension Types", true, 13, "Independent, Leaf Spring, Coilover, Air"},
	{"braking-system", "Braking System", "Braking Systems", true, 14, "Disc, Drum, Regenerative, Hydraulic"},
	{"steering-type", "Steering", "Steering Types", true, 15, "Rack and Pinion, Electric Power Steering"},

	// Frame and structure
	{"frame-material", "Frame Material", "Frame Materials", true, 16, "Aircraft-grade Aluminum, Steel, Carbon Fiber"},
	{"chassis-type", "Chassis", "Chassis Types", true, 17, "Monocoque, Ladder, Tubular"},
	{"wheel-type", "Wheel Type", "Wheel Types", true, 18, "Alloy, Steel, Chrome, Forged"},
	{"tire-type", "Tire Type", "Tire Types", true, 19, "All-Terrain, Street, Turf, Off-Road, Low-Profile"},
	{"tire-rim-size", "Tire & Rim Size", "Tire & Rim Sizes", true, 20, "Wheel diameter (10\", 12\", 14\", etc.)"},

	// Electronics and features
	{"lighting-package", "Lighting Package", "Lighting Packages", true, 21, "LED, Halogen, Halo, Underglow, Demon Eyes"},
	{"sound-systems", "Sound System", "Sound Systems", true, 22, "None, Soundbar, Full System, Premium"},
	{"comfort-features", "Comfort Feature", "Comfort Features", true, 23, "Heated Seats, Fan System, Armrests, Cup Holders"},
	{"safety-features", "Safety Feature", "Safety Features", true, 24, "Seat Belts, Roll Cage, Mirrors, Backup Camera"},
	{"street-legal-package", "Street Legal Package", "Street Legal Packages", true, 25, "LSV Package, Turn Signals, Horn, DOT compliance"},

	// Accessories
	{"added-features", "Added Feature", "Added Features", true, 26, "Brush Guard, Light Bar, Fender Flares, Under Glow"},
	{"color-exterior", "Exterior Color", "Exterior Colors", false, 27, "Body/paint color"},
	{"color-seat", "Seat Color", "Seat Colors", false, 28, "Seat/interior color"},
	{"color-accent", "Accent Color", "Accent Colors", false, 29, "Trim accent color"},
	{"upholstery-type", "Upholstery", "Upholstery Types", true, 30, "Vinyl, Leather, Marine-Grade, Premium"},

	// Body accessories
	{"canopy-type", "Canopy/Top", "Canopy Types", true, 31, "Standard, Extended, Sunbrella, Hard Top"},
	{"windshield-type", "Windshield", "Windshield Types", true, 32, "Folding, Fixed, Acrylic, Glass, Tinted"},
	{"storage-options", "Storage Option", "Storage Options", true, 33, "Under-seat, Glove Box, Cargo Rack"},
	{"cargo-type", "Cargo Configuration", "Cargo Configurations", true, 34, "Rear Bed, Flatbed, Basket, Caddie"},
	{"hitch-system", "Hitch System", "Hitch Systems", true, 35, "2\" Receiver, Ball Mount, Tow Bar"},

	// Upgrades
	{"lift-kit", "Lift Kit", "Lift Kits", true, 36, "None, 3\", 4\", 6\", Custom"},
	{"fender-type", "Fender", "Fender Types", true, 37, "Standard, Flares, Extended, Carbon"},
	{"guard-bumper", "Guard/Bumper", "Guards & Bumpers", true, 38, "Brush Guard, Bull Bar, Front Bumper, Rear Bumper"},
	{"mirror-type", "Mirror", "Mirror Types", true, 39, "Side Mirrors, Rearview, Convex, Heated"},
	{"signal-type", "Signal Equipment", "Signal Equipment", true, 40, "Turn Signals, Hazards, Brake Lights, Reverse"},

	// Compliance and status
	{"horn-type", "Horn", "Horn Types", true, 41, "Standard, Dual-Tone, Air Horn"},
	{"charging-system", "Charging System", "Charging Systems", true, 42, "Standard Charger, Fast Charge, Onboard, Off-Board"},
	{"warranty-tier", "Warranty", "Warranty Tiers", true, 43, "1-Year, 2-Year, 5-Year, Lifetime Frame"},
	{"certification", "Certification", "Certifications", true, 44, "DOT, NHTSA, UL, CE"},
	{"compliance-class", "Compliance Class", "Compliance Classes", true, 45, "NEV, LSV, MSV, PTV, ZEV, UTV"},

	// Business and provenance
	{"vehicle-class", "Vehicle Class", "Vehicle Classes", true, 46, "NEV, MSV, PTV, ZEV, UTV, LSV"},
	{"location", "Dealership Location", "Dealership Locations", true, 47, "Physical store location"},
	{"inventory-status", "Inventory Status", "Inventory Statuses", false, 48, "In Stock, Sold, On Order, In Transit"},
	{"price-tier", "Price Tier", "Price Tiers", true, 49, "Entry, Mid-Range, Premium, Ultra-Premium"},
	{"shipping-zone", "Shipping Zone", "Shipping Zones", true, 50, "Local, Regional, National, International"},
}

var bySlug = func() map[string]Dimension {
	m := make(map[string]Dimension, len(dimensions))
	for _, d := range dimensions {
		m[d.Slug] = d
	}
	return m
}()

// Dimensions returns all dimensions in ordinal order.
func Dimensions() []Dimension {
	out := make([]Dimension, len(dimensions))
	copy(out, dimensions)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// Count returns the number of dimensions in the classification space.
func Count() int { return len(dimensions) }

// BySlug looks up a dimension by slug.
func BySlug(slug string) (Dimension, bool) {
	d, ok := bySlug[slug]
	return d, ok
}
