package device

// Entry is one list record as the device reports it.
type Entry struct {
	ID                 any    `json:"id,omitempty"`
	Plate              string `json:"LicensePlate"`
	ListType           string `json:"listType,omitempty"`
	CreateTime         string `json:"createTime,omitempty"`
	EffectiveStartDate string `json:"effectiveStartDate,omitempty"`
	EffectiveTime      string `json:"effectiveTime,omitempty"`
}

const listTypeAllow = "whiteList"

type searchDescription struct {
	SearchID   string `json:"searchID"`
	Position   int    `json:"searchResultPosition"`
	MaxResults int    `json:"maxResults"`
}

type searchRequest struct {
	Description searchDescription `json:"LPListAuditSearchDescription"`
}

type searchResult struct {
	SearchID       string  `json:"searchID"`
	ResponseStatus string  `json:"responseStatusStrg"`
	NumOfMatches   any     `json:"numOfMatches"`
	TotalMatches   any     `json:"totalMatches"`
	Entries        []Entry `json:"LicensePlateInfoList"`
}

// searchResponse is a result page or, when the device refuses the search, a
// bare status envelope answered with HTTP 200.
type searchResponse struct {
	Result *searchResult `json:"LPListAuditSearchResult"`
	statusReply
}

type recordRequest struct {
	Entries []Entry `json:"LicensePlateInfoList"`
}

type plateRef struct {
	Plate string `json:"LicensePlate"`
}

type deleteRequest struct {
	DeleteAll bool       `json:"deleteAllEnabled"`
	Entries   []plateRef `json:"LicensePlateInfoList,omitempty"`
}

// statusReply is the envelope every write call answers with, and what a search
// answers with instead of a result when refused. Firmwares send
// statusCode and errorCode as numbers or strings.
type statusReply struct {
	StatusCode    any    `json:"statusCode"`
	StatusString  string `json:"statusString"`
	SubStatusCode string `json:"subStatusCode"`
	ErrorCode     any    `json:"errorCode"`
	ErrorMsg      string `json:"errorMsg"`
}
