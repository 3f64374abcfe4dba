// Package result decodes the replies of the BasicManagement diagnostic
// actions into typed records.
//
// All functions are pure. Action replies arrive as a map of output argument
// name to string value; a missing or unconvertible mandatory argument is an
// error (ErrMissingOutput, ErrMalformedOutput). The NSLookup answer table is
// an XML document embedded in the Result argument and is decoded leniently:
// bad rows are dropped and a bad document yields no rows.
package result
