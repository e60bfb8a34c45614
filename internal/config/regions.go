package config

// Region is a vendor AWS region option.
type Region struct {
	Key   string
	Label string
}

var regions = []Region{
	{"useast1", "US East"},
	{"tokyo", "Tokyo, Japan"},
	{"sydney", "Sydney, Australia"},
	{"dublin", "Dublin, Ireland"},
	{"ottawa", "Ottawa, Canada"},
	{"frankfurt", "Frankfurt, Germany"},
	{"london", "London, U.K"},
	{"saopaulo", "Sao Paulo, Brazil"},
	{"singapore", "Singapore"},
	{"mumbai", "Mumbai, India"},
	{"capetown", "Capetown, South Africa"},
	{"bahrain", "Bahrain"},
	{"ningxia", "Ningxia, China"},
}

// Regions returns the region options in display order.
func Regions() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)

	return out
}

// ValidRegion reports whether key is a known region.
func ValidRegion(key string) bool {
	for _, r := range regions {
		if r.Key == key {
			return true
		}
	}

	return false
}
