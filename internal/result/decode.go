package result

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Output argument names of the BasicManagement actions.
const (
	OutTestID              = "TestID"
	OutType                = "Type"
	OutState               = "State"
	OutStatus              = "Status"
	OutAdditionalInfo      = "AdditionalInfo"
	OutSuccessCount        = "SuccessCount"
	OutFailureCount        = "FailureCount"
	OutAverageResponseTime = "AverageResponseTime"
	OutMinimumResponseTime = "MinimumResponseTime"
	OutMaximumResponseTime = "MaximumResponseTime"
	OutResult              = "Result"
	OutResponseTime        = "ResponseTime"
	OutHopHosts            = "HopHosts"
)

// Reply holds the output arguments of one remote action, by name.
type Reply map[string]string

func (r Reply) str(name string) (string, error) {
	v, ok := r[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingOutput, name)
	}
	return v, nil
}

func (r Reply) uint(name string) (uint32, error) {
	v, err := r.str(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedOutput, name, v)
	}
	return uint32(n), nil
}

// decoder collects the first error across a sequence of lookups.
type decoder struct {
	reply Reply
	err   error
}

func (d *decoder) str(name string) string {
	if d.err != nil {
		return ""
	}
	v, err := d.reply.str(name)
	d.err = err
	return v
}

func (d *decoder) uint(name string) uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.reply.uint(name)
	d.err = err
	return v
}

// DecodeTestID reads the TestID returned by Ping, NSLookup and Traceroute.
func DecodeTestID(out Reply) (uint32, error) {
	return out.uint(OutTestID)
}

// DecodeTestInfo reads a GetTestInfo reply.
func DecodeTestInfo(out Reply) (TestInfo, error) {
	d := decoder{reply: out}
	info := TestInfo{
		Type:  d.str(OutType),
		State: d.str(OutState),
	}
	if d.err != nil {
		return TestInfo{}, d.err
	}
	return info, nil
}

// DecodePing reads a GetPingResult reply.
func DecodePing(out Reply) (PingResult, error) {
	d := decoder{reply: out}
	res := PingResult{
		Status:              d.str(OutStatus),
		AdditionalInfo:      d.str(OutAdditionalInfo),
		SuccessCount:        d.uint(OutSuccessCount),
		FailureCount:        d.uint(OutFailureCount),
		AverageResponseTime: d.uint(OutAverageResponseTime),
		MinimumResponseTime: d.uint(OutMinimumResponseTime),
		MaximumResponseTime: d.uint(OutMaximumResponseTime),
	}
	if d.err != nil {
		return PingResult{}, d.err
	}
	return res, nil
}

// DecodeNSLookupResult reads a GetNSLookupResult reply, including the
// embedded XML answer table in the Result argument.
func DecodeNSLookupResult(out Reply) (NSLookupResult, error) {
	d := decoder{reply: out}
	res := NSLookupResult{
		Status:         d.str(OutStatus),
		AdditionalInfo: d.str(OutAdditionalInfo),
		SuccessCount:   d.uint(OutSuccessCount),
	}
	payload := d.str(OutResult)
	if d.err != nil {
		return NSLookupResult{}, d.err
	}
	res.Records = DecodeNSLookup(payload)
	return res, nil
}

// DecodeTraceroute reads a GetTracerouteResult reply.
func DecodeTraceroute(out Reply) (TracerouteResult, error) {
	d := decoder{reply: out}
	res := TracerouteResult{
		Status:         d.str(OutStatus),
		AdditionalInfo: d.str(OutAdditionalInfo),
		ResponseTime:   d.uint(OutResponseTime),
	}
	hops := d.str(OutHopHosts)
	if d.err != nil {
		return TracerouteResult{}, d.err
	}
	res.HopHosts = SplitList(hops)
	return res, nil
}

// SplitList splits a comma separated value and trims each token. Empty
// tokens between commas are kept so positions line up with the device's
// list; an empty value yields an empty list. It never returns nil.
func SplitList(value string) []string {
	if value == "" {
		return []string{}
	}
	out := strings.Split(value, ",")
	for i, tok := range out {
		out[i] = strings.TrimSpace(tok)
	}
	return out
}

// ParseStatusInfo converts a DeviceStatus event value into its list form.
func ParseStatusInfo(value string) []string {
	return SplitList(value)
}

// ParseTestIDs converts a TestIDs or ActiveTestIDs event value into a list
// of identifiers, one per token. Each token is read like C atoi: an
// optional sign and the leading digits, so a token without digits is 0
// and a negative number wraps around.
func ParseTestIDs(value string) []uint32 {
	toks := SplitList(value)
	out := make([]uint32, 0, len(toks))
	for _, tok := range toks {
		out = append(out, leadingInt(tok))
	}
	return out
}

// leadingInt parses the optional sign and digits at the start of tok.
// Values past the int64 range saturate before truncation to 32 bits.
func leadingInt(tok string) uint32 {
	neg := false
	if tok != "" && (tok[0] == '+' || tok[0] == '-') {
		neg = tok[0] == '-'
		tok = tok[1:]
	}
	end := 0
	for end < len(tok) && tok[end] >= '0' && tok[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseInt(tok[:end], 10, 64)
	if err != nil {
		// Only range errors are possible here. The low 32 bits of
		// MinInt64 are zero and those of MaxInt64 are all ones.
		if neg {
			return 0
		}
		return math.MaxUint32
	}
	if neg {
		n = -n
	}
	return uint32(uint64(n) & math.MaxUint32)
}
