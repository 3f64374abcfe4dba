package result

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// maxFieldLength bounds HostNameReturned and IPAddresses in an NSLookup answer.
const maxFieldLength = 256

type nsLookupDocument struct {
	XMLName xml.Name          `xml:"NSLookupResult"`
	Results []nsLookupElement `xml:"Result"`
}

// Pointers distinguish an absent element from an empty one.
type nsLookupElement struct {
	Status           *string `xml:"Status"`
	AnswerType       *string `xml:"AnswerType"`
	HostNameReturned *string `xml:"HostNameReturned"`
	IPAddresses      *string `xml:"IPAddresses"`
	DNSServerIP      *string `xml:"DNSServerIP"`
	ResponseTime     *string `xml:"ResponseTime"`
}

// DecodeNSLookup parses the XML answer table embedded in a
// GetNSLookupResult reply.
//
// The root element must be NSLookupResult; any other root, or a payload
// that is not XML at all, yields an empty slice. Each Result child becomes
// one record in document order. A Result missing any of its six fields, or
// whose HostNameReturned or IPAddresses exceeds 256 characters, is dropped
// without affecting the others.
func DecodeNSLookup(payload string) []NSLookupRecord {
	records := []NSLookupRecord{}

	var doc nsLookupDocument
	if err := xml.Unmarshal([]byte(payload), &doc); err != nil {
		return records
	}

	for _, el := range doc.Results {
		if rec, ok := el.record(); ok {
			records = append(records, rec)
		}
	}

	return records
}

func (el nsLookupElement) record() (NSLookupRecord, bool) {
	if el.Status == nil || el.AnswerType == nil || el.HostNameReturned == nil ||
		el.IPAddresses == nil || el.DNSServerIP == nil || el.ResponseTime == nil {
		return NSLookupRecord{}, false
	}
	if len(*el.HostNameReturned) > maxFieldLength || len(*el.IPAddresses) > maxFieldLength {
		return NSLookupRecord{}, false
	}

	// Unparseable response times read as zero, matching atoi semantics.
	rt, err := strconv.ParseUint(strings.TrimSpace(*el.ResponseTime), 10, 32)
	if err != nil {
		rt = 0
	}

	return NSLookupRecord{
		Status:           *el.Status,
		AnswerType:       *el.AnswerType,
		HostNameReturned: *el.HostNameReturned,
		IPAddresses:      SplitList(*el.IPAddresses),
		DNSServerIP:      *el.DNSServerIP,
		ResponseTime:     uint32(rt),
	}, true
}
