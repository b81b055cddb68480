package domain

// Airport is the caller-facing view of a GDS reference-data location.
type Airport struct {
	City        string `json:"city"`
	CityName    string `json:"cityName"`
	CityCode    string `json:"cityCode"`
	CountryCode string `json:"countryCode"`
	StateCode   string `json:"stateCode"`
	RegionCode  string `json:"regionCode"`
	Country     string `json:"country"`
	Airport     string `json:"airport"`
	Code        string `json:"code"`
}
