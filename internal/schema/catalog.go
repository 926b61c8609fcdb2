package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the built-in schemas.
const (
	SearchResults  = "search_results"
	ListingDetails = "listing_details"
)

// Metadata keys supplied by the engine for SourceMeta fields.
const (
	MetaIngestionDate = "ingestionDate"
	MetaSourceObject  = "sourceObject"
	MetaRunID         = "runId"
)

var (
	catalogMu sync.RWMutex
	catalog   = map[string]func() *Schema{
		SearchResults:  searchResults,
		ListingDetails: listingDetails,
	}
)

// Register adds a named schema constructor. It panics on duplicates.
func Register(name string, fn func() *Schema) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, dup := catalog[name]; dup {
		panic("schema: duplicate registration for " + name)
	}
	catalog[name] = fn
}

// Lookup returns a fresh copy of the named schema.
func Lookup(name string) (*Schema, error) {
	catalogMu.RLock()
	fn, ok := catalog[name]
	catalogMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema: unknown schema %q (known: %v)", name, Names())
	}
	return fn(), nil
}

// Names lists the registered schemas in sorted order.
func Names() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func doc(name string, t FieldType, paths ...string) Field {
	return Field{Name: name, Type: t, Paths: paths}
}

func meta(name string, t FieldType, key string) Field {
	return Field{Name: name, Type: t, Paths: []string{key}, Source: SourceMeta}
}

// searchResults is the flattened search-results payload (one row per listing
// card on a results page).
func searchResults() *Schema {
	id := doc("id", TypeID, "id")
	id.Required = true
	slug := doc("slug", TypeID, "slug")
	slug.Required = true

	return &Schema{
		Name: SearchResults,
		Fields: []Field{
			id,
			doc("title", TypeString, "title"),
			slug,
			doc("estate", TypeString, "estate"),
			doc("transaction", TypeString, "transaction"),
			doc("developmentId", TypeInt, "developmentId"),
			doc("developmentTitle", TypeString, "developmentTitle"),
			doc("developmentUrl", TypeString, "developmentUrl"),
			doc("city", TypeString, "location.address.city.name"),
			doc("province", TypeString, "location.address.province.name"),
			doc("street", TypeString, "location.address.street"),
			doc("mapRadius", TypeFloat, "location.mapDetails.radius"),
			doc("isExclusiveOffer", TypeBool, "isExclusiveOffer"),
			doc("isPrivateOwner", TypeBool, "isPrivateOwner"),
			doc("isPromoted", TypeBool, "isPromoted"),
			doc("source", TypeString, "source"),
			doc("agencyId", TypeInt, "agency.id"),
			doc("agencyName", TypeString, "agency.name"),
			doc("agencySlug", TypeString, "agency.slug"),
			doc("agencyType", TypeString, "agency.type"),
			doc("agencyBrandingVisible", TypeBool, "agency.brandingVisible"),
			doc("agencyHighlightedAds", TypeBool, "agency.highlightedAds"),
			doc("agencyImageUrl", TypeString, "agency.imageUrl"),
			doc("openDays", TypeString, "openDays"),
			doc("totalPriceCurrency", TypeString, "totalPrice.currency"),
			doc("totalPriceValue", TypeFloat, "totalPrice.value"),
			doc("pricePerSquareMeterCurrency", TypeString, "pricePerSquareMeter.currency"),
			doc("pricePerSquareMeterValue", TypeFloat, "pricePerSquareMeter.value"),
			doc("areaInSquareMeters", TypeFloat, "areaInSquareMeters"),
			doc("terrainAreaInSquareMeters", TypeFloat, "terrainAreaInSquareMeters"),
			doc("roomsNumber", TypeString, "roomsNumber"),
			doc("hidePrice", TypeBool, "hidePrice"),
			doc("floorNumber", TypeString, "floorNumber"),
			doc("dateCreated", TypeTimestamp, "dateCreated"),
			doc("dateCreatedFirst", TypeTimestamp, "dateCreatedFirst"),
			doc("shortDescription", TypeString, "shortDescription"),
			doc("totalPossibleImages", TypeInt, "totalPossibleImages"),
			doc("additionalInfo", TypeJSON, "additionalInfo"),
			meta("ingestionDate", TypeDate, MetaIngestionDate),
		},
		KeyFields: []string{"slug", "ingestionDate"},
	}
}

// listingDetails is the single-listing detail payload, read from the
// pageProps.ad object of a listing page.
func listingDetails() *Schema {
	id := doc("id", TypeID, "id")
	id.Required = true

	description := doc("description_text", TypeString, "description")
	description.StripHTML = true

	pricePeriod := doc("price_period", TypeString, "characteristics[key=price].suffix")
	pricePeriod.Pattern = `^[/\s]*(.*?)\s*$`

	bedrooms := doc("bedrooms", TypeInt, "characteristics[key=rooms_num].localizedValue")
	bedrooms.Pattern = `(?i)^T(\d+)`
	bedrooms.Derive = &Derive{
		Path: "description",
		Keywords: []Keyword{
			{Contains: "3 quartos", Value: 3},
			{Contains: "2 quartos", Value: 2},
			{Contains: "1 quarto", Value: 1},
		},
	}

	mapDetails := doc("map_details", TypeJSON, "location.mapDetails")
	mapDetails.Omit = []string{"__typename"}
	reverseGeo := doc("reverse_geocoding", TypeJSON, "location.reverseGeocoding")
	reverseGeo.Omit = []string{"__typename"}
	otherFeatures := Field{Name: "other_features", Type: TypeJSON, Members: amenities()}

	// A per-row ingestion date wins over the run date.
	ingestion := Field{
		Name:   "ingestionDate",
		Type:   TypeDate,
		Source: SourceRow,
		Paths:  []string{"ingestionDate", "meta:" + MetaIngestionDate},
	}

	return &Schema{
		Name: ListingDetails,
		Fields: []Field{
			id,
			doc("title", TypeString, "title"),
			doc("url", TypeString, "url"),
			description,
			doc("advert_type", TypeString, "advertType"),
			doc("advertiser_type_detail", TypeString, "advertiserType"),
			doc("status", TypeString, "status"),
			doc("created_at", TypeTimestamp, "createdAt"),
			doc("modified_at", TypeTimestamp, "modifiedAt"),
			doc("property_type", TypeString, "category.name[0].value", "adCategory.name"),
			doc("transaction_type", TypeString, "adCategory.type"),
			doc("price", TypeFloat, "characteristics[key=price].value"),
			doc("price_currency", TypeString, "characteristics[key=price].currency"),
			pricePeriod,
			doc("area_m2", TypeFloat, "characteristics[key=m].value"),
			doc("typology", TypeString, "characteristics[key=rooms_num].localizedValue"),
			bedrooms,
			doc("energy_certificate", TypeString, "characteristics[key=energy_certificate].localizedValue"),
			doc("bathrooms", TypeInt, "characteristics[key=bathrooms_num].value"),
			doc("address_city", TypeString, "location.address.city.name"),
			doc("address_county", TypeString, "location.address.county.name"),
			doc("address_district", TypeString, "location.address.province.name"),
			doc("latitude", TypeFloat, "location.coordinates.latitude"),
			doc("longitude", TypeFloat, "location.coordinates.longitude"),
			doc("contact_name", TypeString, "contactDetails.name"),
			doc("contact_phone", TypeString, "contactDetails.phones[0]"),
			doc("image_urls", TypeStringArray, "images[*].large"),
			otherFeatures,
			doc("features", TypeStringArray, "features"),
			doc("featuresByCategory", TypeStringArray, "featuresByCategory"),
			doc("featuresWithoutCategory", TypeStringArray, "featuresWithoutCategory"),
			mapDetails,
			reverseGeo,
			doc("slug", TypeString, "slug"),
			ingestion,
		},
		KeyFields: []string{"id", "ingestionDate"},
	}
}

// amenities are read from the lift flag and from keywords in the Portuguese
// description. Earlier phrases take precedence over later ones.
func amenities() []Member {
	text := func(key string, kw ...Keyword) Member {
		return Member{Key: key, Derive: Derive{Path: "description", Keywords: kw}}
	}
	return []Member{
		{Key: "lift", Derive: Derive{
			Path:   "additionalInformation[label=lift].values[0]",
			Tokens: map[string]any{"::y": true, "::n": false},
		}},
		text("garage", Keyword{"garagem fechada", "Closed"}, Keyword{"garagem", "Yes"}),
		text("heating", Keyword{"aquecimento central", "Central Heating"}, Keyword{"aquecimento", "Yes"}),
		text("fireplace", Keyword{"lareira", true}),
		text("balcony", Keyword{"varanda", true}),
		text("suite", Keyword{"suite", true}),
		text("kitchen_equipment", Keyword{"cozinha semi-equipada", "Semi-equipped"}, Keyword{"cozinha equipada", "Equipped"}),
	}
}
