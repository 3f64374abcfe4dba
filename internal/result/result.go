package result

// TestInfo describes one diagnostic test known to a device.
type TestInfo struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// PingResult is the outcome of a ping test. Times are in milliseconds.
type PingResult struct {
	Status              string `json:"status"`
	AdditionalInfo      string `json:"additional_info"`
	SuccessCount        uint32 `json:"success_count"`
	FailureCount        uint32 `json:"failure_count"`
	AverageResponseTime uint32 `json:"average_response_time"`
	MinimumResponseTime uint32 `json:"minimum_response_time"`
	MaximumResponseTime uint32 `json:"maximum_response_time"`
}

// NSLookupRecord is one answer row of a DNS lookup test.
type NSLookupRecord struct {
	Status           string   `json:"status"`
	AnswerType       string   `json:"answer_type"`
	HostNameReturned string   `json:"host_name_returned"`
	IPAddresses      []string `json:"ip_addresses"`
	DNSServerIP      string   `json:"dns_server_ip"`
	ResponseTime     uint32   `json:"response_time"`
}

// NSLookupResult is the outcome of a DNS lookup test.
type NSLookupResult struct {
	Status         string           `json:"status"`
	AdditionalInfo string           `json:"additional_info"`
	SuccessCount   uint32           `json:"success_count"`
	Records        []NSLookupRecord `json:"records"`
}

// TracerouteResult is the outcome of a traceroute test.
type TracerouteResult struct {
	Status         string   `json:"status"`
	AdditionalInfo string   `json:"additional_info"`
	ResponseTime   uint32   `json:"response_time"`
	HopHosts       []string `json:"hop_hosts"`
}
